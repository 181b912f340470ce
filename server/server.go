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
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/routemachine/routemachine/config"
	"github.com/routemachine/routemachine/packet"
	"github.com/routemachine/routemachine/table"
)

type ribMsgType int

const (
	_ ribMsgType = iota
	RIB_MSG_PATH
	RIB_MSG_PEER_UP
	RIB_MSG_PEER_DOWN
)

// ribMsg is the only way peers talk to the RIB task. Arrival order at
// the channel is the total order of the decision process.
type ribMsg struct {
	msgType  ribMsgType
	peer     *Peer
	pathList []*table.Path
}

type peerMapInfo struct {
	peer        *Peer
	adjRibIn    *table.AdjRib
	adjRibOut   *table.AdjRib
	established bool
}

type BgpServer struct {
	t             tomb.Tomb
	done          chan struct{}
	bgpConfig     config.Bgp
	globalTypeCh  chan config.Global
	addedPeerCh   chan config.Neighbor
	deletedPeerCh chan config.Neighbor
	ribCh         chan *ribMsg
	listenPort    int
	peerMap       map[string]*peerMapInfo
	rib           *table.TableManager
	fib           *FibClient
	listeners     []*net.TCPListener
}

func NewBgpServer(port int, fib *FibClient) *BgpServer {
	b := &BgpServer{}
	b.done = make(chan struct{})
	b.globalTypeCh = make(chan config.Global)
	b.addedPeerCh = make(chan config.Neighbor)
	b.deletedPeerCh = make(chan config.Neighbor)
	b.ribCh = make(chan *ribMsg, 4096)
	b.listenPort = port
	b.fib = fib
	return b
}

// avoid mapped IPv6 address
func listenAndAccept(proto string, port int, ch chan net.Conn) (*net.TCPListener, error) {
	service := ":" + strconv.Itoa(port)
	addr, _ := net.ResolveTCPAddr(proto, service)

	l, err := net.ListenTCP(proto, addr)
	if err != nil {
		log.Info(err)
		return nil, err
	}
	go func() {
		for {
			conn, err := l.AcceptTCP()
			if err != nil {
				log.Info(err)
				return
			}
			ch <- conn
		}
	}()

	return l, nil
}

func (server *BgpServer) Serve() error {
	g := <-server.globalTypeCh
	server.bgpConfig.Global = g

	server.rib = table.NewTableManager(g.As)
	server.originateNetworks()

	acceptCh := make(chan net.Conn)
	l4, err1 := listenAndAccept("tcp4", server.listenPort, acceptCh)
	if err1 == nil {
		server.listeners = append(server.listeners, l4)
	}
	l6, err2 := listenAndAccept("tcp6", server.listenPort, acceptCh)
	if err2 == nil {
		server.listeners = append(server.listeners, l6)
	}
	if err1 != nil && err2 != nil {
		log.Fatal("can't listen either v4 and v6")
	}

	server.peerMap = make(map[string]*peerMapInfo)
	for {
		select {
		case <-server.t.Dying():
			server.shutdown()
			close(server.done)
			return nil
		case conn := <-acceptCh:
			remoteAddr, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			info, found := server.peerMap[remoteAddr]
			if found {
				log.WithFields(log.Fields{
					"Topic": "Server",
					"Key":   remoteAddr,
				}).Debug("accepted a new passive connection")
				if info.peer.peerInfo.IsEBGP() {
					if tcpConn, y := conn.(*net.TCPConn); y {
						SetTcpTTLSockopts(tcpConn, 1)
					}
				}
				info.peer.PassConn(conn)
			} else {
				log.WithFields(log.Fields{
					"Topic": "Server",
					"Key":   remoteAddr,
				}).Info("can't find configuration for a new passive connection")
				conn.Close()
			}
		case peer := <-server.addedPeerCh:
			addr := peer.NeighborAddress.String()
			p := NewPeer(server.bgpConfig.Global, peer, server.ribCh)
			server.peerMap[addr] = &peerMapInfo{
				peer:      p,
				adjRibIn:  table.NewAdjRibIn(),
				adjRibOut: table.NewAdjRibOut(),
			}
		case peer := <-server.deletedPeerCh:
			addr := peer.NeighborAddress.String()
			info, found := server.peerMap[addr]
			if found {
				log.WithFields(log.Fields{
					"Topic": "Server",
					"Key":   addr,
				}).Info("delete a peer configuration")
				if info.established {
					info.peer.SendMessages([]*bgp.BGPMessage{
						bgp.NewBGPNotificationMessage(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_PEER_DECONFIGURED, nil),
					})
				}
				info.peer.Stop()
				server.drainRibCh()
				delete(server.peerMap, addr)
			} else {
				log.WithFields(log.Fields{
					"Topic": "Server",
					"Key":   addr,
				}).Info("can't delete a peer configuration")
			}
		case m := <-server.ribCh:
			server.handleRibMsg(m)
		}
	}
}

// originateNetworks seeds the Loc-RIB with the locally configured
// prefixes. They carry an empty AS_PATH and our own address as
// nexthop; the outbound transform does the rest per peer.
func (server *BgpServer) originateNetworks() {
	g := &server.bgpConfig.Global
	now := time.Now()
	pathList := make([]*table.Path, 0, len(g.Networks))
	for _, network := range g.Networks {
		_, ipnet, err := net.ParseCIDR(network)
		if err != nil {
			log.WithFields(log.Fields{
				"Topic": "Server",
				"Key":   network,
				"error": err,
			}).Error("can't parse network")
			continue
		}
		ones, _ := ipnet.Mask.Size()
		nlri := bgp.NewIPAddrPrefix(uint8(ones), ipnet.IP.String())
		attrs := []bgp.PathAttributeInterface{
			bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
			bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{}),
			bgp.NewPathAttributeNextHop(g.LocalAddress.String()),
		}
		pathList = append(pathList, table.NewPath(nil, nlri, attrs, false, now))
	}
	if len(pathList) > 0 {
		server.rib.ProcessPaths(pathList)
	}
}

func (server *BgpServer) findPeer(p *Peer) *peerMapInfo {
	return server.peerMap[p.peerConfig.NeighborAddress.String()]
}

func (server *BgpServer) handleRibMsg(m *ribMsg) {
	info := server.findPeer(m.peer)
	if info == nil {
		// a message from a peer that was deleted under us
		return
	}

	switch m.msgType {
	case RIB_MSG_PATH:
		accepted := info.adjRibIn.Update(m.pathList)
		if len(accepted) == 0 {
			return
		}
		changes := server.rib.ProcessPaths(accepted)
		server.propagateChanges(changes)
	case RIB_MSG_PEER_UP:
		info.established = true
		server.sendFullTable(info)
	case RIB_MSG_PEER_DOWN:
		info.established = false
		info.adjRibIn.DropAll()
		info.adjRibOut = table.NewAdjRibOut()
		changes := server.rib.DeletePathsByPeer(m.peer.peerInfo)
		server.propagateChanges(changes)
	}
}

// drainRibCh applies whatever the stopped peer managed to queue so its
// PEER_DOWN cleanup is not lost.
func (server *BgpServer) drainRibCh() {
	for {
		select {
		case m := <-server.ribCh:
			server.handleRibMsg(m)
		default:
			return
		}
	}
}

// sendFullTable advertises the current Loc-RIB to a freshly
// established peer; this carries the locally originated networks as
// the session's initial UPDATE.
func (server *BgpServer) sendFullTable(info *peerMapInfo) {
	msgs := make([]*bgp.BGPMessage, 0)
	for _, best := range server.rib.GetBestPathList() {
		if info.peer.peerInfo.Equal(best.GetSource()) {
			continue
		}
		out := best.UpdatePathAttrs(info.peer.peerInfo)
		for _, accepted := range info.adjRibOut.Update([]*table.Path{out}) {
			msgs = append(msgs, table.CreateUpdateMsgFromPath(accepted))
		}
	}
	if len(msgs) > 0 {
		info.peer.SendMessages(msgs)
	}
}

// propagateChanges pushes best-path transitions to the kernel and
// fans the resulting UPDATEs out to every other established peer.
func (server *BgpServer) propagateChanges(changes []*table.BestPathChange) {
	for _, change := range changes {
		server.syncKernel(change)
		for _, info := range server.peerMap {
			if !info.established {
				continue
			}
			var out *table.Path
			if change.Best == nil {
				out = change.Old.Clone(true)
			} else {
				if info.peer.peerInfo.Equal(change.Best.GetSource()) {
					// split horizon: never echo a route back
					// to its advertiser
					continue
				}
				out = change.Best.UpdatePathAttrs(info.peer.peerInfo)
			}
			msgs := make([]*bgp.BGPMessage, 0, 1)
			for _, accepted := range info.adjRibOut.Update([]*table.Path{out}) {
				msgs = append(msgs, table.CreateUpdateMsgFromPath(accepted))
			}
			if len(msgs) > 0 {
				info.peer.SendMessages(msgs)
			}
		}
	}
}

// syncKernel turns one best-path transition into FIB commands: the old
// route is deleted first, then the new one installed. Locally
// originated networks never touch the kernel, they are already there.
func (server *BgpServer) syncKernel(change *table.BestPathChange) {
	if server.fib == nil {
		return
	}
	if change.Old != nil && !change.Old.IsLocal() {
		if err := server.fib.SendRouteDel(change.Nlri); err != nil {
			log.WithFields(log.Fields{
				"Topic": "Server",
				"Key":   change.Nlri.String(),
				"error": err,
			}).Error("can't delete kernel route")
		}
	}
	if change.Best != nil && !change.Best.IsLocal() {
		if err := server.fib.SendRouteAdd(change.Nlri, change.Best.GetNexthop()); err != nil {
			log.WithFields(log.Fields{
				"Topic": "Server",
				"Key":   change.Nlri.String(),
				"error": err,
			}).Error("can't add kernel route")
		}
	}
}

func (server *BgpServer) shutdown() {
	for _, l := range server.listeners {
		l.Close()
	}
	for addr, info := range server.peerMap {
		info.peer.Stop()
		delete(server.peerMap, addr)
	}
	// withdraw what we installed so the kernel doesn't keep stale
	// routes around
	if server.fib != nil {
		for _, best := range server.rib.GetBestPathList() {
			if !best.IsLocal() {
				server.fib.SendRouteDel(best.GetNlri())
			}
		}
		server.fib.Close()
	}
	log.WithFields(log.Fields{
		"Topic": "Server",
	}).Info("shut down")
}

func (server *BgpServer) SetGlobalType(g config.Global) {
	server.globalTypeCh <- g
}

func (server *BgpServer) PeerAdd(peer config.Neighbor) {
	server.addedPeerCh <- peer
}

func (server *BgpServer) PeerDelete(peer config.Neighbor) {
	server.deletedPeerCh <- peer
}

func (server *BgpServer) Stop() {
	server.t.Kill(nil)
	<-server.done
}
