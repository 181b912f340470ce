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

	"github.com/eapache/channels"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/routemachine/routemachine/config"
	"github.com/routemachine/routemachine/packet"
	"github.com/routemachine/routemachine/table"
)

// Peer runs one session: its FSM, the transport the FSM owns and the
// bridge into the RIB task. All routing state lives with the RIB task;
// the peer only converts validated UPDATEs into paths.
type Peer struct {
	t              tomb.Tomb
	globalConfig   config.Global
	peerConfig     config.Neighbor
	acceptedConnCh chan net.Conn
	incoming       chan *fsmMsg
	outgoing       *channels.InfiniteChannel
	fsm            *FSM
	ribCh          chan<- *ribMsg
	peerInfo       *table.PeerInfo
}

func NewPeer(g config.Global, peer config.Neighbor, ribCh chan<- *ribMsg) *Peer {
	p := &Peer{
		globalConfig:   g,
		peerConfig:     peer,
		acceptedConnCh: make(chan net.Conn),
		incoming:       make(chan *fsmMsg, 4096),
		outgoing:       channels.NewInfiniteChannel(),
		ribCh:          ribCh,
	}
	p.fsm = NewFSM(&p.globalConfig, &p.peerConfig, p.acceptedConnCh)
	p.peerInfo = p.fsm.peerInfo
	p.t.Go(p.loop)
	return p
}

func (peer *Peer) handleBGPmessage(m *bgp.BGPMessage) {
	log.WithFields(log.Fields{
		"Topic": "Peer",
		"Key":   peer.peerConfig.NeighborAddress,
		"data":  m.Header.Type,
	}).Debug("received")

	if m.Header.Type != bgp.BGP_MSG_UPDATE {
		return
	}

	pathList := table.NewProcessMessage(m, peer.peerInfo).ToPathList()
	if len(pathList) == 0 {
		return
	}

	peer.ribCh <- &ribMsg{
		msgType:  RIB_MSG_PATH,
		peer:     peer,
		pathList: pathList,
	}
}

func (peer *Peer) handleStateChange(nextState bgp.FSMState) {
	oldState := peer.fsm.state
	peer.fsm.StateChange(nextState)

	if nextState == bgp.BGP_FSM_ESTABLISHED {
		log.WithFields(log.Fields{
			"Topic": "Peer",
			"Key":   peer.peerConfig.NeighborAddress,
		}).Info("peer up")
		peer.ribCh <- &ribMsg{
			msgType: RIB_MSG_PEER_UP,
			peer:    peer,
		}
	} else if oldState == bgp.BGP_FSM_ESTABLISHED {
		log.WithFields(log.Fields{
			"Topic":   "Peer",
			"Key":     peer.peerConfig.NeighborAddress,
			"Counter": peer.fsm.counter,
		}).Info("peer down")
		peer.ribCh <- &ribMsg{
			msgType: RIB_MSG_PEER_DOWN,
			peer:    peer,
		}
	}
}

// loop runs one FSM handler per state, in the teacher-fashion of the
// RFC's event loop: the handler owns the state, the peer owns the
// transitions.
func (peer *Peer) loop() error {
	for {
		h := NewFSMHandler(peer.fsm, peer.incoming, peer.outgoing)
		sameState := true
		for sameState {
			select {
			case <-peer.t.Dying():
				close(peer.acceptedConnCh)
				h.Stop()
				if peer.fsm.state == bgp.BGP_FSM_ESTABLISHED {
					peer.ribCh <- &ribMsg{
						msgType: RIB_MSG_PEER_DOWN,
						peer:    peer,
					}
				}
				peer.outgoing.Close()
				return nil
			case m := <-peer.incoming:
				if m == nil {
					continue
				}
				switch m.MsgType {
				case FSM_MSG_STATE_CHANGE:
					// waits for all goroutines created
					// for the current state
					h.Wait()
					peer.handleStateChange(m.MsgData.(bgp.FSMState))
					sameState = false
				case FSM_MSG_BGP_MESSAGE:
					switch data := m.MsgData.(type) {
					case *bgp.BGPMessage:
						peer.handleBGPmessage(data)
					case error:
						// the FSM already sent the
						// NOTIFICATION; nothing to do
					}
				}
			}
		}
	}
}

func (peer *Peer) Stop() error {
	peer.t.Kill(nil)
	return peer.t.Wait()
}

func (peer *Peer) PassConn(conn net.Conn) {
	peer.acceptedConnCh <- conn
}

// SendMessages enqueues UPDATEs toward the wire. Called from the RIB
// task; the infinite channel keeps that task from ever blocking on a
// slow peer.
func (peer *Peer) SendMessages(msgs []*bgp.BGPMessage) {
	for _, m := range msgs {
		peer.outgoing.In() <- m
	}
}
