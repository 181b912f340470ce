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

package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/routemachine/routemachine/packet"
)

func TestPathDefaults(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	path := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001, 65100}})

	assert.Equal(uint32(DEFAULT_LOCAL_PREF), path.GetLocalPref())
	assert.Equal(2, path.GetAsPathLen())
	assert.Equal(uint16(65001), path.GetFirstAS())
	assert.Equal(uint8(bgp.BGP_ORIGIN_ATTR_TYPE_IGP), path.GetOrigin())
	assert.Equal(uint32(0), path.GetMed())
	assert.Equal("192.0.2.1", path.GetNexthop().String())
}

func TestAsPathLenCountsSetAsOne(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{
			bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint16{65001, 65002}),
			bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, []uint16{65100, 65101, 65102}),
		}),
		bgp.NewPathAttributeNextHop("10.0.0.1"),
	}
	path := NewPath(peerA, bgp.NewIPAddrPrefix(24, "10.0.0.0"), attrs, false, time.Now())
	assert.Equal(3, path.GetAsPathLen())
}

func TestUpdatePathAttrsEBGP(t *testing.T) {
	assert := assert.New(t)

	from := testPeer(65001, "10.0.0.1", "1.1.1.1")
	to := testPeer(65002, "10.0.0.2", "2.2.2.2")

	path := testPath(from, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}, nexthop: "10.0.0.1"})
	out := path.UpdatePathAttrs(to)

	// local AS prepended, nexthop rewritten to our own address
	assert.Equal(2, out.GetAsPathLen())
	assert.Equal(uint16(testLocalAS), out.GetFirstAS())
	assert.Equal("192.0.2.100", out.GetNexthop().String())

	// the original path is untouched
	assert.Equal(uint16(65001), path.GetFirstAS())
	assert.Equal("10.0.0.1", path.GetNexthop().String())
}

func TestUpdatePathAttrsIBGP(t *testing.T) {
	assert := assert.New(t)

	from := testPeer(65001, "10.0.0.1", "1.1.1.1")
	to := testPeer(testLocalAS, "10.0.0.3", "3.3.3.3")

	path := testPath(from, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}, nexthop: "10.0.0.1", med: 5})
	out := path.UpdatePathAttrs(to)

	// AS_PATH, NEXT_HOP and MED pass through unchanged
	assert.Equal(uint16(65001), out.GetFirstAS())
	assert.Equal(1, out.GetAsPathLen())
	assert.Equal("10.0.0.1", out.GetNexthop().String())
	assert.Equal(uint32(5), out.GetMed())

	// LOCAL_PREF is materialized for the interior session
	assert.NotNil(out.GetPathAttr(bgp.BGP_ATTR_TYPE_LOCAL_PREF))
	assert.Equal(uint32(DEFAULT_LOCAL_PREF), out.GetLocalPref())
}

func TestPathEqual(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	p1 := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}})
	p2 := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}})
	p3 := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}, med: 9})

	assert.True(p1.Equal(p2))
	assert.False(p1.Equal(p3))
}
