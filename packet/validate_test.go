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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validUpdateBody() *BGPUpdate {
	aspath := []*AsPathParam{
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint16{65001, 65002}),
	}
	p := []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_IGP),
		NewPathAttributeAsPath(aspath),
		NewPathAttributeNextHop("192.0.2.9"),
	}
	n := []NLRInfo{*NewNLRInfo(24, "10.0.1.0")}
	return NewBGPUpdateMessage(nil, p, n).Body.(*BGPUpdate)
}

func TestValidateHeaderMarker(t *testing.T) {
	assert := assert.New(t)

	buf, _ := open().Serialize()
	h := &BGPHeader{}
	require.NoError(t, h.DecodeFromBytes(buf))
	assert.NoError(ValidateHeader(h))

	// one marker byte off the synchronization pattern
	buf[3] = 0x00
	h = &BGPHeader{}
	require.NoError(t, h.DecodeFromBytes(buf))
	err := ValidateHeader(h)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(uint8(BGP_ERROR_MESSAGE_HEADER_ERROR), e.TypeCode)
	assert.Equal(uint8(BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED), e.SubTypeCode)
	assert.Empty(e.Data)
}

func TestValidateHeaderLength(t *testing.T) {
	assert := assert.New(t)

	h := &BGPHeader{Len: 28, Type: BGP_MSG_OPEN}
	err := ValidateHeader(h)
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_BAD_MESSAGE_LENGTH), err.(*MessageError).SubTypeCode)

	h = &BGPHeader{Len: 5000, Type: BGP_MSG_UPDATE}
	err = ValidateHeader(h)
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_BAD_MESSAGE_LENGTH), err.(*MessageError).SubTypeCode)

	h = &BGPHeader{Len: 20, Type: BGP_MSG_KEEPALIVE}
	err = ValidateHeader(h)
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_BAD_MESSAGE_LENGTH), err.(*MessageError).SubTypeCode)

	h = &BGPHeader{Len: 19, Type: BGP_MSG_KEEPALIVE}
	assert.NoError(ValidateHeader(h))
}

func TestValidateHeaderType(t *testing.T) {
	h := &BGPHeader{Len: 100, Type: 5}
	err := ValidateHeader(h)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(t, uint8(BGP_ERROR_SUB_BAD_MESSAGE_TYPE), e.SubTypeCode)
	assert.Equal(t, []byte{0x05}, e.Data)
}

func TestValidateOpenMsg(t *testing.T) {
	assert := assert.New(t)
	id := net.ParseIP("192.0.2.1").To4()

	body := open().Body.(*BGPOpen)
	assert.NoError(ValidateOpenMsg(body, 65001, id))

	// version must be 4
	body = open().Body.(*BGPOpen)
	body.Version = 5
	err := ValidateOpenMsg(body, 65001, id)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(uint8(BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER), e.SubTypeCode)
	assert.Equal([]byte{0x00, 0x04}, e.Data)

	// AS must match the configured peer
	body = open().Body.(*BGPOpen)
	err = ValidateOpenMsg(body, 65002, id)
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_BAD_PEER_AS), err.(*MessageError).SubTypeCode)

	// hold time below 3 is only valid as 0
	body = open().Body.(*BGPOpen)
	body.HoldTime = 2
	err = ValidateOpenMsg(body, 65001, id)
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME), err.(*MessageError).SubTypeCode)

	body = open().Body.(*BGPOpen)
	body.HoldTime = 0
	assert.NoError(ValidateOpenMsg(body, 65001, id))

	// identifier must match when configured
	body = open().Body.(*BGPOpen)
	err = ValidateOpenMsg(body, 65001, net.ParseIP("192.0.2.2").To4())
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_BAD_BGP_IDENTIFIER), err.(*MessageError).SubTypeCode)
}

func TestValidateOpenMsgOptParams(t *testing.T) {
	assert := assert.New(t)
	id := net.ParseIP("192.0.2.1").To4()

	// an authentication parameter is carried without verification
	body := open().Body.(*BGPOpen)
	body.OptParams = []OptionParameterInterface{&OptionParameterAuth{AuthCode: 1, Data: []byte{0xde, 0xad}}}
	assert.NoError(ValidateOpenMsg(body, 65001, id))

	// anything else is refused
	body = open().Body.(*BGPOpen)
	body.OptParams = []OptionParameterInterface{&OptionParameterUnknown{ParamType: 2, Value: []byte{0x01}}}
	err := ValidateOpenMsg(body, 65001, id)
	require.Error(t, err)
	assert.Equal(uint8(BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER), err.(*MessageError).SubTypeCode)
}

func TestValidateUpdateMsgOK(t *testing.T) {
	assert.NoError(t, ValidateUpdateMsg(validUpdateBody(), 65000, false))
}

func TestValidateUpdateMsgDuplicateAttribute(t *testing.T) {
	body := validUpdateBody()
	body.PathAttributes = append(body.PathAttributes, NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_IGP))
	err := ValidateUpdateMsg(body, 65000, false)
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST), err.(*MessageError).SubTypeCode)
}

func TestValidateUpdateMsgRoutingLoop(t *testing.T) {
	body := validUpdateBody()
	err := ValidateUpdateMsg(body, 65002, false)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(t, uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR), e.TypeCode)
	assert.Equal(t, uint8(BGP_ERROR_SUB_ROUTING_LOOP), e.SubTypeCode)
	assert.Empty(t, e.Data)
}

func TestValidateUpdateMsgBadOrigin(t *testing.T) {
	body := validUpdateBody()
	body.PathAttributes[0] = NewPathAttributeOrigin(5)
	err := ValidateUpdateMsg(body, 65000, false)
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_INVALID_ORIGIN_ATTRIBUTE), err.(*MessageError).SubTypeCode)
}

func TestValidateUpdateMsgBadAsPathSegmentType(t *testing.T) {
	body := validUpdateBody()
	body.PathAttributes[1] = NewPathAttributeAsPath([]*AsPathParam{NewAsPathParam(3, []uint16{65001})})
	err := ValidateUpdateMsg(body, 65000, false)
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_MALFORMED_AS_PATH), err.(*MessageError).SubTypeCode)
}

func TestValidateUpdateMsgZeroNexthop(t *testing.T) {
	body := validUpdateBody()
	body.PathAttributes[2] = NewPathAttributeNextHop("0.0.0.0")
	err := ValidateUpdateMsg(body, 65000, false)
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_INVALID_NEXT_HOP_ATTRIBUTE), err.(*MessageError).SubTypeCode)
}

func TestValidateUpdateMsgMissingWellKnown(t *testing.T) {
	body := validUpdateBody()
	body.PathAttributes = body.PathAttributes[:2]
	err := ValidateUpdateMsg(body, 65000, false)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(t, uint8(BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE), e.SubTypeCode)
	assert.Equal(t, []byte{byte(BGP_ATTR_TYPE_NEXT_HOP)}, e.Data)
}

func TestValidateUpdateMsgMissingLocalPrefOnIBGP(t *testing.T) {
	body := validUpdateBody()
	assert.NoError(t, ValidateUpdateMsg(body, 65000, false))
	err := ValidateUpdateMsg(body, 65000, true)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(t, uint8(BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE), e.SubTypeCode)
	assert.Equal(t, []byte{byte(BGP_ATTR_TYPE_LOCAL_PREF)}, e.Data)
}

func TestValidateUpdateMsgUnrecognizedWellKnown(t *testing.T) {
	body := validUpdateBody()
	unknown := &PathAttributeUnknown{
		PathAttribute: PathAttribute{
			Flags: BGP_ATTR_FLAG_TRANSITIVE,
			Type:  30,
			Value: []byte{0x05},
		},
	}
	body.PathAttributes = append(body.PathAttributes, unknown)
	err := ValidateUpdateMsg(body, 65000, false)
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_UNRECOGNIZED_WELL_KNOWN_ATTRIBUTE), err.(*MessageError).SubTypeCode)
}

func TestValidateUpdateLength(t *testing.T) {
	body := validUpdateBody()
	buf, err := NewBGPUpdateMessage(nil, body.PathAttributes, body.NLRI).Serialize()
	require.NoError(t, err)
	m, err := ParseBGPMessage(buf)
	require.NoError(t, err)
	assert.NoError(t, ValidateUpdateLength(&m.Header, m.Body.(*BGPUpdate)))

	// inflate the declared attribute length past the message end
	m.Body.(*BGPUpdate).TotalPathAttributeLen += 100
	err = ValidateUpdateLength(&m.Header, m.Body.(*BGPUpdate))
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST), err.(*MessageError).SubTypeCode)
}

func TestDecodeAttributeFlagsError(t *testing.T) {
	// ORIGIN with the optional bit set must be refused at decode
	buf := []byte{BGP_ATTR_FLAG_OPTIONAL | BGP_ATTR_FLAG_TRANSITIVE, byte(BGP_ATTR_TYPE_ORIGIN), 0x01, 0x00}
	p := &PathAttributeOrigin{}
	err := p.DecodeFromBytes(buf)
	require.Error(t, err)
	e := err.(*MessageError)
	assert.Equal(t, uint8(BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR), e.SubTypeCode)
	assert.Equal(t, buf, e.Data)
}

func TestDecodeAttributeLengthError(t *testing.T) {
	// NEXT_HOP must carry exactly four value bytes
	buf := []byte{BGP_ATTR_FLAG_TRANSITIVE, byte(BGP_ATTR_TYPE_NEXT_HOP), 0x02, 0x0a, 0x00}
	p := &PathAttributeNextHop{}
	err := p.DecodeFromBytes(buf)
	require.Error(t, err)
	assert.Equal(t, uint8(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR), err.(*MessageError).SubTypeCode)
}
