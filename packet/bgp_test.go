// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bgp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func keepalive() *BGPMessage {
	return NewBGPKeepAliveMessage()
}

func notification() *BGPMessage {
	return NewBGPNotificationMessage(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR, []byte{0x01, 0x02})
}

func open() *BGPMessage {
	return NewBGPOpenMessage(65001, 90, "192.0.2.1", []OptionParameterInterface{})
}

func update() *BGPMessage {
	w1 := WithdrawnRoute{*NewIPAddrPrefix(23, "121.1.3.2")}
	w2 := WithdrawnRoute{*NewIPAddrPrefix(17, "100.33.3.0")}
	w := []WithdrawnRoute{w1, w2}

	aspath := []*AsPathParam{
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint16{1000}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint16{1001, 1002}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint16{1003, 1004}),
	}

	p := []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_IGP),
		NewPathAttributeAsPath(aspath),
		NewPathAttributeNextHop("129.1.1.2"),
		NewPathAttributeMultiExitDisc(1 << 20),
		NewPathAttributeLocalPref(1 << 22),
		NewPathAttributeAtomicAggregate(),
		NewPathAttributeAggregator(uint16(30002), "129.0.2.99"),
	}
	n := []NLRInfo{*NewNLRInfo(24, "13.2.3.1")}
	return NewBGPUpdateMessage(w, p, n)
}

func testMessageRoundTrip(t *testing.T, m1 *BGPMessage) {
	buf1, err := m1.Serialize()
	assert.NoError(t, err)
	m2, err := ParseBGPMessage(buf1)
	assert.NoError(t, err)
	buf2, err := m2.Serialize()
	assert.NoError(t, err)
	assert.Equal(t, buf1, buf2)
}

func TestKeepAliveRoundTrip(t *testing.T) {
	testMessageRoundTrip(t, keepalive())
}

func TestNotificationRoundTrip(t *testing.T) {
	testMessageRoundTrip(t, notification())
}

func TestOpenRoundTrip(t *testing.T) {
	testMessageRoundTrip(t, open())
}

func TestUpdateRoundTrip(t *testing.T) {
	testMessageRoundTrip(t, update())
}

func TestOpenBytes(t *testing.T) {
	assert := assert.New(t)

	// OPEN from ASN 65001, hold 90, id 192.0.2.1, no optional
	// parameters
	expected := append(bytes.Repeat([]byte{0xff}, 16),
		0x00, 0x1d, 0x01,
		0x04, 0xfd, 0xe9, 0x00, 0x5a, 0xc0, 0x00, 0x02, 0x01, 0x00)

	buf, err := open().Serialize()
	assert.NoError(err)
	assert.Equal(expected, buf)

	m, err := ParseBGPMessage(expected)
	assert.NoError(err)
	body := m.Body.(*BGPOpen)
	assert.Equal(uint8(4), body.Version)
	assert.Equal(uint16(65001), body.MyAS)
	assert.Equal(uint16(90), body.HoldTime)
	assert.Equal("192.0.2.1", body.ID.String())
}

func TestPrefixBytes(t *testing.T) {
	assert := assert.New(t)

	buf, err := NewIPAddrPrefix(24, "10.0.1.0").Serialize()
	assert.NoError(err)
	assert.Equal([]byte{0x18, 0x0a, 0x00, 0x01}, buf)

	buf, err = NewIPAddrPrefix(20, "172.16.0.0").Serialize()
	assert.NoError(err)
	assert.Equal([]byte{0x14, 0xac, 0x10, 0x00}, buf)

	p := &IPAddrPrefix{}
	err = p.DecodeFromBytes([]byte{0x18, 0x0a, 0x00, 0x01})
	assert.NoError(err)
	assert.Equal("10.0.1.0/24", p.String())

	p = &IPAddrPrefix{}
	err = p.DecodeFromBytes([]byte{0x14, 0xac, 0x10, 0x00})
	assert.NoError(err)
	assert.Equal("172.16.0.0/20", p.String())
}

func TestPrefixPadding(t *testing.T) {
	assert := assert.New(t)

	// trailing host bits must be cleared on the wire
	buf, err := NewIPAddrPrefix(20, "172.16.15.1").Serialize()
	assert.NoError(err)
	assert.Equal([]byte{0x14, 0xac, 0x10, 0x00}, buf)
}

func TestAsPathPrepend(t *testing.T) {
	assert := assert.New(t)

	// empty path gets a fresh sequence
	p := NewPathAttributeAsPath([]*AsPathParam{})
	p.Prepend(65000)
	assert.Equal(1, len(p.Value))
	assert.Equal(uint8(BGP_ASPATH_ATTR_TYPE_SEQ), p.Value[0].Type)
	assert.Equal([]uint16{65000}, p.Value[0].AS)

	// a leading sequence grows in place
	p.Prepend(65100)
	assert.Equal(1, len(p.Value))
	assert.Equal([]uint16{65100, 65000}, p.Value[0].AS)
	assert.Equal(uint8(2), p.Value[0].Num)

	// a leading set is left alone
	p = NewPathAttributeAsPath([]*AsPathParam{NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint16{100, 200})})
	p.Prepend(65000)
	assert.Equal(2, len(p.Value))
	assert.Equal(uint8(BGP_ASPATH_ATTR_TYPE_SEQ), p.Value[0].Type)
	assert.Equal([]uint16{65000}, p.Value[0].AS)
}

func TestPathAttributeExtendedLength(t *testing.T) {
	assert := assert.New(t)

	// more than 255 value bytes flips the extended length bit
	as := make([]uint16, 150)
	for i := range as {
		as[i] = uint16(i + 1)
	}
	p := NewPathAttributeAsPath([]*AsPathParam{NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, as[:100]), NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, as[100:])})
	buf, err := p.Serialize()
	assert.NoError(err)
	assert.NotZero(buf[0] & BGP_ATTR_FLAG_EXTENDED_LENGTH)

	p2 := &PathAttributeAsPath{}
	err = p2.DecodeFromBytes(buf)
	assert.NoError(err)
	buf2, err := p2.Serialize()
	assert.NoError(err)
	assert.Equal(buf, buf2)
}

func TestParseUnknownMessageType(t *testing.T) {
	assert := assert.New(t)

	buf, _ := keepalive().Serialize()
	buf[18] = 0x09
	_, err := ParseBGPMessage(buf)
	assert.Error(err)
	e := err.(*MessageError)
	assert.Equal(uint8(BGP_ERROR_MESSAGE_HEADER_ERROR), e.TypeCode)
	assert.Equal(uint8(BGP_ERROR_SUB_BAD_MESSAGE_TYPE), e.SubTypeCode)
}

func TestMessageErrorLogString(t *testing.T) {
	e := NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR, []byte{0xc0, 0x01}, "flags are invalid")
	assert.Equal(t, "UPDATE message error: attribute flags error: 3/4/c001", e.(*MessageError).LogString())
}
