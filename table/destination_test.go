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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/routemachine/routemachine/packet"
)

const testLocalAS = uint16(65000)

func testPeer(as uint16, addr, id string) *PeerInfo {
	return &PeerInfo{
		AS:           as,
		LocalAS:      testLocalAS,
		ID:           net.ParseIP(id).To4(),
		LocalID:      net.ParseIP("192.0.2.100").To4(),
		Address:      net.ParseIP(addr),
		LocalAddress: net.ParseIP("192.0.2.100"),
	}
}

type pathOpts struct {
	localPref uint32
	asPath    []uint16
	origin    uint8
	med       uint32
	nexthop   string
}

func testPath(peer *PeerInfo, prefix string, length uint8, opts pathOpts) *Path {
	if opts.nexthop == "" {
		opts.nexthop = "192.0.2.1"
	}
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(opts.origin),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, opts.asPath)}),
		bgp.NewPathAttributeNextHop(opts.nexthop),
	}
	if opts.localPref != 0 {
		attrs = append(attrs, bgp.NewPathAttributeLocalPref(opts.localPref))
	}
	if opts.med != 0 {
		attrs = append(attrs, bgp.NewPathAttributeMultiExitDisc(opts.med))
	}
	return NewPath(peer, bgp.NewIPAddrPrefix(length, prefix), attrs, false, time.Now())
}

func TestCalculateOnlyPath(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}}))

	best, reason := dest.Calculate(testLocalAS)
	assert.NotNil(best)
	assert.Equal(BPR_ONLY_PATH, reason)
}

func TestCalculateAsPathThenLocalPref(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	peerB := testPeer(65002, "10.0.0.2", "2.2.2.2")

	// peer A has the shorter AS path
	pathA := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001, 65100}, nexthop: "10.0.0.1"})
	pathB := testPath(peerB, "10.0.0.0", 24, pathOpts{asPath: []uint16{65002, 65200, 65201, 65202}, nexthop: "10.0.0.2"})

	dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(pathA)
	dest.addNewPath(pathB)
	best, reason := dest.Calculate(testLocalAS)
	assert.Equal(pathA, best)
	assert.Equal(BPR_ASPATH, reason)

	// raising B's LOCAL_PREF overrides the AS path difference
	pathB2 := testPath(peerB, "10.0.0.0", 24, pathOpts{asPath: []uint16{65002, 65200, 65201, 65202}, nexthop: "10.0.0.2", localPref: 200})
	dest.addNewPath(pathB2)
	best, reason = dest.Calculate(testLocalAS)
	assert.Equal(pathB2, best)
	assert.Equal(BPR_LOCAL_PREF, reason)
}

func TestCalculateOrigin(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	peerB := testPeer(65002, "10.0.0.2", "2.2.2.2")

	pathA := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}, origin: bgp.BGP_ORIGIN_ATTR_TYPE_INCOMPLETE})
	pathB := testPath(peerB, "10.0.0.0", 24, pathOpts{asPath: []uint16{65002}, origin: bgp.BGP_ORIGIN_ATTR_TYPE_IGP})

	dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(pathA)
	dest.addNewPath(pathB)
	best, reason := dest.Calculate(testLocalAS)
	assert.Equal(pathB, best)
	assert.Equal(BPR_ORIGIN, reason)
}

func TestCalculateMEDOnlySameNeighborAS(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	peerB := testPeer(65002, "10.0.0.2", "2.2.2.2")

	// same first AS: lower MED wins
	pathA := testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65100}, med: 10})
	pathB := testPath(peerB, "10.0.0.0", 24, pathOpts{asPath: []uint16{65100}, med: 20})
	dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(pathA)
	dest.addNewPath(pathB)
	best, reason := dest.Calculate(testLocalAS)
	assert.Equal(pathA, best)
	assert.Equal(BPR_MED, reason)

	// different first AS: MED is not compared, router id decides
	pathA = testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65100}, med: 10})
	pathB = testPath(peerB, "10.0.0.0", 24, pathOpts{asPath: []uint16{65200}, med: 20})
	dest = NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(pathA)
	dest.addNewPath(pathB)
	best, reason = dest.Calculate(testLocalAS)
	assert.Equal(pathA, best)
	assert.Equal(BPR_ROUTER_ID, reason)
}

func TestCalculateEBGPOverIBGP(t *testing.T) {
	assert := assert.New(t)

	ibgpPeer := testPeer(testLocalAS, "10.0.0.1", "1.1.1.1")
	ebgpPeer := testPeer(65002, "10.0.0.2", "2.2.2.2")

	pathI := testPath(ibgpPeer, "10.0.0.0", 24, pathOpts{asPath: []uint16{65100}})
	pathE := testPath(ebgpPeer, "10.0.0.0", 24, pathOpts{asPath: []uint16{65200}})

	dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(pathI)
	dest.addNewPath(pathE)
	best, reason := dest.Calculate(testLocalAS)
	assert.Equal(pathE, best)
	assert.Equal(BPR_ASN, reason)
}

func TestCalculateOrderIndependent(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "3.3.3.3")
	peerB := testPeer(65002, "10.0.0.2", "1.1.1.1")
	peerC := testPeer(65003, "10.0.0.3", "2.2.2.2")

	build := func() []*Path {
		return []*Path{
			testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65100}}),
			testPath(peerB, "10.0.0.0", 24, pathOpts{asPath: []uint16{65200}}),
			testPath(peerC, "10.0.0.0", 24, pathOpts{asPath: []uint16{65300}}),
		}
	}

	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		paths := build()
		dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
		for _, i := range order {
			dest.addNewPath(paths[i])
		}
		best, _ := dest.Calculate(testLocalAS)
		// lowest router id must win however the paths arrived
		assert.Equal("1.1.1.1", best.GetSource().ID.String())
	}
}

func TestImplicitWithdraw(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	dest := NewDestination(bgp.NewIPAddrPrefix(24, "10.0.0.0"))
	dest.addNewPath(testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}, med: 1}))
	dest.Calculate(testLocalAS)
	assert.Equal(1, len(dest.GetKnownPathList()))

	// a second advertisement from the same peer replaces the first
	dest.addNewPath(testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}, med: 2}))
	best, _ := dest.Calculate(testLocalAS)
	assert.Equal(1, len(dest.GetKnownPathList()))
	assert.Equal(uint32(2), best.GetMed())
}

func TestWithdraw(t *testing.T) {
	assert := assert.New(t)

	peerA := testPeer(65001, "10.0.0.1", "1.1.1.1")
	nlri := bgp.NewIPAddrPrefix(24, "10.0.0.0")
	dest := NewDestination(nlri)
	dest.addNewPath(testPath(peerA, "10.0.0.0", 24, pathOpts{asPath: []uint16{65001}}))
	best, _ := dest.Calculate(testLocalAS)
	assert.NotNil(best)

	dest.addWithdraw(NewPath(peerA, nlri, nil, true, time.Now()))
	best, _ = dest.Calculate(testLocalAS)
	assert.Nil(best)
	assert.Equal(0, len(dest.GetKnownPathList()))
}
