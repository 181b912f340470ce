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

package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routemachine/routemachine/config"
	"github.com/routemachine/routemachine/packet"
	"github.com/routemachine/routemachine/table"
)

func testNeighbor(as uint16, addr string) config.Neighbor {
	return config.Neighbor{
		PeerAs:          as,
		NeighborAddress: net.ParseIP(addr),
		Timers: config.Timers{
			HoldTime:          90,
			KeepaliveInterval: 30,
			ConnectRetry:      120,
			// long enough that the FSM sits in Idle for the
			// whole test
			IdleHoldTime: 60,
		},
		Establishment: config.ESTABLISHMENT_MODE_PASSIVE,
	}
}

func testServer() (*BgpServer, config.Global) {
	g := config.Global{
		As:           65000,
		RouterId:     net.ParseIP("192.0.2.100"),
		LocalAddress: net.ParseIP("192.0.2.100"),
		Port:         1179,
		Networks:     []string{"172.16.0.0/20"},
	}
	s := NewBgpServer(g.Port, nil)
	s.bgpConfig.Global = g
	s.rib = table.NewTableManager(g.As)
	s.peerMap = make(map[string]*peerMapInfo)
	s.originateNetworks()
	return s, g
}

func addTestPeer(s *BgpServer, g config.Global, n config.Neighbor, established bool) *peerMapInfo {
	p := NewPeer(g, n, s.ribCh)
	info := &peerMapInfo{
		peer:        p,
		adjRibIn:    table.NewAdjRibIn(),
		adjRibOut:   table.NewAdjRibOut(),
		established: established,
	}
	s.peerMap[n.NeighborAddress.String()] = info
	return info
}

func recvUpdate(t *testing.T, p *Peer) *bgp.BGPUpdate {
	select {
	case o := <-p.outgoing.Out():
		m, ok := o.(*bgp.BGPMessage)
		require.True(t, ok)
		require.Equal(t, uint8(bgp.BGP_MSG_UPDATE), m.Header.Type)
		return m.Body.(*bgp.BGPUpdate)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an update")
		return nil
	}
}

func assertNoUpdate(t *testing.T, p *Peer) {
	select {
	case o := <-p.outgoing.Out():
		t.Fatalf("unexpected message %v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

func peerPaths(info *peerMapInfo, prefix string, length uint8, firstAS uint16) []*table.Path {
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint16{firstAS})}),
		bgp.NewPathAttributeNextHop(info.peer.peerInfo.Address.String()),
	}
	return []*table.Path{table.NewPath(info.peer.peerInfo, bgp.NewIPAddrPrefix(length, prefix), attrs, false, time.Now())}
}

func TestServerFanOutWithSplitHorizon(t *testing.T) {
	assert := assert.New(t)
	s, g := testServer()

	infoA := addTestPeer(s, g, testNeighbor(65001, "192.0.2.1"), true)
	infoB := addTestPeer(s, g, testNeighbor(65002, "192.0.2.2"), true)
	defer infoA.peer.Stop()
	defer infoB.peer.Stop()

	// a route from A reaches B but is never echoed back to A
	s.handleRibMsg(&ribMsg{
		msgType:  RIB_MSG_PATH,
		peer:     infoA.peer,
		pathList: peerPaths(infoA, "10.0.1.0", 24, 65001),
	})

	body := recvUpdate(t, infoB.peer)
	require.Equal(t, 1, len(body.NLRI))
	assert.Equal("10.0.1.0/24", body.NLRI[0].String())
	assertNoUpdate(t, infoA.peer)

	// the eBGP transform prepended our AS and rewrote the nexthop
	for _, a := range body.PathAttributes {
		switch attr := a.(type) {
		case *bgp.PathAttributeAsPath:
			assert.Equal(uint16(65000), attr.Value[0].AS[0])
		case *bgp.PathAttributeNextHop:
			assert.Equal(g.LocalAddress.String(), attr.Value.String())
		}
	}

	// the same advertisement again produces no second update
	s.handleRibMsg(&ribMsg{
		msgType:  RIB_MSG_PATH,
		peer:     infoA.peer,
		pathList: peerPaths(infoA, "10.0.1.0", 24, 65001),
	})
	assertNoUpdate(t, infoB.peer)
}

func TestServerInitialTableOnPeerUp(t *testing.T) {
	assert := assert.New(t)
	s, g := testServer()

	info := addTestPeer(s, g, testNeighbor(65001, "192.0.2.1"), false)
	defer info.peer.Stop()

	// entering Established publishes the locally originated network
	s.handleRibMsg(&ribMsg{msgType: RIB_MSG_PEER_UP, peer: info.peer})
	assert.True(info.established)

	body := recvUpdate(t, info.peer)
	require.Equal(t, 1, len(body.NLRI))
	assert.Equal("172.16.0.0/20", body.NLRI[0].String())
}

func TestServerPeerDownWithdraws(t *testing.T) {
	assert := assert.New(t)
	s, g := testServer()

	infoA := addTestPeer(s, g, testNeighbor(65001, "192.0.2.1"), true)
	infoB := addTestPeer(s, g, testNeighbor(65002, "192.0.2.2"), true)
	defer infoA.peer.Stop()
	defer infoB.peer.Stop()

	s.handleRibMsg(&ribMsg{
		msgType:  RIB_MSG_PATH,
		peer:     infoA.peer,
		pathList: peerPaths(infoA, "10.0.1.0", 24, 65001),
	})
	recvUpdate(t, infoB.peer)

	// peer A going down withdraws its routes from B and empties the
	// Loc-RIB of anything A advertised
	s.handleRibMsg(&ribMsg{msgType: RIB_MSG_PEER_DOWN, peer: infoA.peer})

	body := recvUpdate(t, infoB.peer)
	require.Equal(t, 1, len(body.WithdrawnRoutes))
	assert.Equal("10.0.1.0/24", body.WithdrawnRoutes[0].String())

	for _, best := range s.rib.GetBestPathList() {
		assert.False(infoA.peer.peerInfo.Equal(best.GetSource()))
	}
	assert.Equal(0, infoA.adjRibIn.Count())
}
