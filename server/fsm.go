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
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/eapache/channels"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/routemachine/routemachine/config"
	"github.com/routemachine/routemachine/packet"
	"github.com/routemachine/routemachine/table"
)

type fsmMsgType int

const (
	_ fsmMsgType = iota
	FSM_MSG_STATE_CHANGE
	FSM_MSG_BGP_MESSAGE
)

type fsmMsg struct {
	MsgType fsmMsgType
	MsgData interface{}
}

const (
	// RFC 4271 P.60: a "large value" for the hold timer while we wait
	// for the peer's OPEN.
	HOLDTIME_OPENSENT = 240

	// idle hold backoff bounds; the floor comes from the per-peer
	// idle_time setting.
	IDLEHOLDTIME_MAX = 120
)

type messageCounter struct {
	OpenIn       uint
	OpenOut      uint
	UpdateIn     uint
	UpdateOut    uint
	KeepaliveIn  uint
	KeepaliveOut uint
	NotifyIn     uint
	NotifyOut    uint
	TotalIn      uint
	TotalOut     uint
}

type FSM struct {
	globalConfig       *config.Global
	peerConfig         *config.Neighbor
	state              bgp.FSMState
	conn               net.Conn
	connCh             chan net.Conn
	idleHoldBackoff    *backoff.Backoff
	opensentHoldTime   float64
	negotiatedHoldTime float64
	keepaliveInterval  float64
	keepaliveTicker    *time.Ticker
	peerInfo           *table.PeerInfo
	counter            messageCounter
}

func NewFSM(gConfig *config.Global, pConfig *config.Neighbor, connCh chan net.Conn) *FSM {
	return &FSM{
		globalConfig: gConfig,
		peerConfig:   pConfig,
		state:        bgp.BGP_FSM_IDLE,
		connCh:       connCh,
		idleHoldBackoff: &backoff.Backoff{
			Min:    time.Duration(pConfig.Timers.IdleHoldTime * float64(time.Second)),
			Max:    IDLEHOLDTIME_MAX * time.Second,
			Factor: 2,
		},
		opensentHoldTime: float64(HOLDTIME_OPENSENT),
		peerInfo: &table.PeerInfo{
			AS:           pConfig.PeerAs,
			LocalAS:      gConfig.As,
			LocalID:      gConfig.RouterId.To4(),
			Address:      pConfig.NeighborAddress,
			LocalAddress: gConfig.LocalAddress,
		},
	}
}

func (fsm *FSM) bgpMessageStateUpdate(MessageType uint8, isIn bool) {
	c := &fsm.counter
	if isIn {
		c.TotalIn++
	} else {
		c.TotalOut++
	}
	switch MessageType {
	case bgp.BGP_MSG_OPEN:
		if isIn {
			c.OpenIn++
		} else {
			c.OpenOut++
		}
	case bgp.BGP_MSG_UPDATE:
		if isIn {
			c.UpdateIn++
		} else {
			c.UpdateOut++
		}
	case bgp.BGP_MSG_NOTIFICATION:
		if isIn {
			c.NotifyIn++
		} else {
			c.NotifyOut++
		}
	case bgp.BGP_MSG_KEEPALIVE:
		if isIn {
			c.KeepaliveIn++
		} else {
			c.KeepaliveOut++
		}
	}
}

func (fsm *FSM) StateChange(nextState bgp.FSMState) {
	log.WithFields(log.Fields{
		"Topic": "Peer",
		"Key":   fsm.peerConfig.NeighborAddress,
		"old":   fsm.state.String(),
		"new":   nextState.String(),
	}).Debug("state changed")
	fsm.state = nextState
	if nextState == bgp.BGP_FSM_ESTABLISHED {
		fsm.idleHoldBackoff.Reset()
	}
}

func (fsm *FSM) isIBGP() bool {
	return fsm.peerConfig.PeerAs == fsm.globalConfig.As
}

// negotiateHoldTime applies the OPEN exchange outcome: the session
// hold time is the smaller of both sides, anything below three seconds
// collapses to zero and disables both the hold and keepalive timers.
func (fsm *FSM) negotiateHoldTime(peerHoldTime uint16) {
	hold := math.Min(fsm.peerConfig.Timers.HoldTime, float64(peerHoldTime))
	if hold < 3 {
		hold = 0
	}
	fsm.negotiatedHoldTime = hold

	if hold == 0 {
		fsm.keepaliveInterval = 0
	} else {
		k := fsm.peerConfig.Timers.KeepaliveInterval
		if k == 0 || k > hold/3 {
			k = hold / 3
		}
		fsm.keepaliveInterval = k
	}

	log.WithFields(log.Fields{
		"Topic":     "Peer",
		"Key":       fsm.peerConfig.NeighborAddress,
		"HoldTime":  fsm.negotiatedHoldTime,
		"Keepalive": fsm.keepaliveInterval,
	}).Debug("negotiated hold time")
}

func (fsm *FSM) sendNotificationFromErrorMsg(conn net.Conn, e *bgp.MessageError) {
	m := bgp.NewBGPNotificationMessage(e.TypeCode, e.SubTypeCode, e.Data)
	b, _ := m.Serialize()
	_, err := conn.Write(b)
	if err == nil {
		fsm.bgpMessageStateUpdate(m.Header.Type, false)
	}
	conn.Close()

	log.WithFields(log.Fields{
		"Topic": "Peer",
		"Key":   fsm.peerConfig.NeighborAddress,
	}).Warn("sent notification: ", e.LogString())
}

func (fsm *FSM) sendNotification(conn net.Conn, code, subType uint8, data []byte, msg string) {
	e := bgp.NewMessageError(code, subType, data, msg)
	fsm.sendNotificationFromErrorMsg(conn, e.(*bgp.MessageError))
}

func (fsm *FSM) buildOpen() *bgp.BGPMessage {
	return bgp.NewBGPOpenMessage(fsm.globalConfig.As,
		uint16(fsm.peerConfig.Timers.HoldTime),
		fsm.globalConfig.RouterId.String(),
		[]bgp.OptionParameterInterface{})
}

type FSMHandler struct {
	t                tomb.Tomb
	fsm              *FSM
	conn             net.Conn
	msgCh            chan *fsmMsg
	errorCh          chan bool
	incoming         chan *fsmMsg
	outgoing         *channels.InfiniteChannel
	holdTimerResetCh chan bool
}

func NewFSMHandler(fsm *FSM, incoming chan *fsmMsg, outgoing *channels.InfiniteChannel) *FSMHandler {
	f := &FSMHandler{
		fsm:              fsm,
		errorCh:          make(chan bool, 2),
		incoming:         incoming,
		outgoing:         outgoing,
		holdTimerResetCh: make(chan bool, 2),
	}
	f.t.Go(f.loop)
	return f
}

func (h *FSMHandler) Wait() error {
	return h.t.Wait()
}

func (h *FSMHandler) Stop() error {
	h.t.Kill(nil)
	return h.t.Wait()
}

func (h *FSMHandler) idle() bgp.FSMState {
	fsm := h.fsm

	if fsm.keepaliveTicker != nil {
		if fsm.negotiatedHoldTime != 0 {
			fsm.keepaliveTicker.Stop()
		}
		fsm.keepaliveTicker = nil
	}

	holdTime := fsm.idleHoldBackoff.Duration()
	idleHoldTimer := time.NewTimer(holdTime)
	for {
		select {
		case <-h.t.Dying():
			return 0
		case conn, ok := <-fsm.connCh:
			if !ok {
				break
			}
			conn.Close()
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
			}).Warn("closed an accepted connection")
		case <-idleHoldTimer.C:
			log.WithFields(log.Fields{
				"Topic":    "Peer",
				"Key":      fsm.peerConfig.NeighborAddress,
				"Duration": holdTime,
			}).Debug("IdleHoldTimer expired")
			if fsm.peerConfig.Establishment == config.ESTABLISHMENT_MODE_PASSIVE {
				return bgp.BGP_FSM_ACTIVE
			}
			return bgp.BGP_FSM_CONNECT
		}
	}
}

// connect owns the active dial. A retry fires every conn_retry_time
// until the dial lands or an inbound connection wins the race.
func (h *FSMHandler) connect() bgp.FSMState {
	fsm := h.fsm
	retryInterval := time.Duration(fsm.peerConfig.Timers.ConnectRetry * float64(time.Second))
	addr := net.JoinHostPort(fsm.peerConfig.NeighborAddress.String(), strconv.Itoa(bgp.BGP_PORT))

	connCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	dialing := false
	dial := func() {
		dialing = true
		go func() {
			conn, err := net.DialTimeout("tcp", addr, retryInterval)
			if err != nil {
				errCh <- err
				return
			}
			connCh <- conn
		}()
	}
	dial()

	retryTimer := time.NewTimer(retryInterval)
	for {
		select {
		case <-h.t.Dying():
			return 0
		case conn := <-connCh:
			fsm.conn = conn
			return bgp.BGP_FSM_OPENSENT
		case err := <-errCh:
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
				"error": err,
			}).Debug("connect failed")
			return bgp.BGP_FSM_ACTIVE
		case conn, ok := <-fsm.connCh:
			if !ok {
				break
			}
			// an inbound connection wins over our own dial
			fsm.conn = conn
			return bgp.BGP_FSM_OPENSENT
		case <-retryTimer.C:
			retryTimer.Reset(retryInterval)
			if !dialing {
				dial()
			}
		}
	}
}

func (h *FSMHandler) active() bgp.FSMState {
	fsm := h.fsm
	retryInterval := time.Duration(fsm.peerConfig.Timers.ConnectRetry * float64(time.Second))
	retryTimer := time.NewTimer(retryInterval)
	for {
		select {
		case <-h.t.Dying():
			return 0
		case conn, ok := <-fsm.connCh:
			if !ok {
				break
			}
			remoteAddr, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			if !net.ParseIP(remoteAddr).Equal(fsm.peerConfig.NeighborAddress) {
				conn.Close()
				log.WithFields(log.Fields{
					"Topic": "Peer",
					"Key":   fsm.peerConfig.NeighborAddress,
				}).Warn("closed a connection from an unexpected address")
				retryTimer.Reset(retryInterval)
				continue
			}
			fsm.conn = conn
			return bgp.BGP_FSM_OPENSENT
		case <-h.errorCh:
			return bgp.BGP_FSM_IDLE
		case <-retryTimer.C:
			if fsm.peerConfig.Establishment == config.ESTABLISHMENT_MODE_ACTIVE {
				return bgp.BGP_FSM_CONNECT
			}
			retryTimer.Reset(retryInterval)
		}
	}
}

func readAll(conn net.Conn, length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *FSMHandler) recvMessageWithError() error {
	headerBuf, err := readAll(h.conn, bgp.BGP_HEADER_LENGTH)
	if err != nil {
		h.errorCh <- true
		return err
	}

	hd := &bgp.BGPHeader{}
	err = hd.DecodeFromBytes(headerBuf)
	if err == nil {
		err = bgp.ValidateHeader(hd)
	}
	if err != nil {
		h.fsm.bgpMessageStateUpdate(0, true)
		log.WithFields(log.Fields{
			"Topic": "Peer",
			"Key":   h.fsm.peerConfig.NeighborAddress,
			"error": err,
		}).Warn("malformed BGP Header")
		h.msgCh <- &fsmMsg{
			MsgType: FSM_MSG_BGP_MESSAGE,
			MsgData: err,
		}
		return err
	}

	bodyBuf, err := readAll(h.conn, int(hd.Len)-bgp.BGP_HEADER_LENGTH)
	if err != nil {
		h.errorCh <- true
		return err
	}

	var fmsg *fsmMsg
	m, err := bgp.ParseBGPBody(hd, bodyBuf)
	if err == nil {
		h.fsm.bgpMessageStateUpdate(m.Header.Type, true)
		if body, y := m.Body.(*bgp.BGPUpdate); y {
			err = bgp.ValidateUpdateLength(hd, body)
			if err == nil {
				err = bgp.ValidateUpdateMsg(body, h.fsm.globalConfig.As, h.fsm.isIBGP())
			}
		}
	} else {
		h.fsm.bgpMessageStateUpdate(0, true)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"Topic": "Peer",
			"Key":   h.fsm.peerConfig.NeighborAddress,
			"error": err,
		}).Warn("malformed BGP message")
		fmsg = &fsmMsg{
			MsgType: FSM_MSG_BGP_MESSAGE,
			MsgData: err,
		}
		// in Established the state loop doesn't see message
		// errors, so the NOTIFICATION goes out from here and the
		// send loop tears the session down.
		if h.fsm.state == bgp.BGP_FSM_ESTABLISHED {
			if e, y := err.(*bgp.MessageError); y {
				h.outgoing.In() <- bgp.NewBGPNotificationMessage(e.TypeCode, e.SubTypeCode, e.Data)
			}
		}
	} else {
		fmsg = &fsmMsg{
			MsgType: FSM_MSG_BGP_MESSAGE,
			MsgData: m,
		}
		if h.fsm.state == bgp.BGP_FSM_ESTABLISHED {
			switch m.Header.Type {
			case bgp.BGP_MSG_KEEPALIVE, bgp.BGP_MSG_UPDATE:
				// if the length of h.holdTimerResetCh isn't
				// zero, the timer will be reset soon anyway.
				if len(h.holdTimerResetCh) == 0 {
					h.holdTimerResetCh <- true
				}
			case bgp.BGP_MSG_NOTIFICATION:
				body := m.Body.(*bgp.BGPNotification)
				log.WithFields(log.Fields{
					"Topic": "Peer",
					"Key":   h.fsm.peerConfig.NeighborAddress,
					"Code":  body.ErrorCode,
					"Sub":   body.ErrorSubcode,
				}).Warn("notification received")
				h.errorCh <- true
			case bgp.BGP_MSG_OPEN:
				// an OPEN in Established is an FSM error
				h.outgoing.In() <- bgp.NewBGPNotificationMessage(bgp.BGP_ERROR_FSM_ERROR, 0, nil)
			}
		}
	}
	h.msgCh <- fmsg
	return err
}

func (h *FSMHandler) recvMessage() error {
	h.recvMessageWithError()
	return nil
}

func (h *FSMHandler) opensent() bgp.FSMState {
	fsm := h.fsm
	m := fsm.buildOpen()
	b, _ := m.Serialize()
	fsm.conn.Write(b)
	fsm.bgpMessageStateUpdate(m.Header.Type, false)

	h.msgCh = make(chan *fsmMsg)
	h.conn = fsm.conn

	h.t.Go(h.recvMessage)

	holdTimer := time.NewTimer(time.Second * time.Duration(fsm.opensentHoldTime))

	for {
		select {
		case <-h.t.Dying():
			h.conn.Close()
			return 0
		case conn, ok := <-fsm.connCh:
			if !ok {
				break
			}
			conn.Close()
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
			}).Warn("closed an accepted connection")
		case e := <-h.msgCh:
			switch e.MsgData.(type) {
			case *bgp.BGPMessage:
				m := e.MsgData.(*bgp.BGPMessage)
				if m.Header.Type == bgp.BGP_MSG_OPEN {
					body := m.Body.(*bgp.BGPOpen)
					err := bgp.ValidateOpenMsg(body, fsm.peerConfig.PeerAs, fsm.peerConfig.PeerRouterId)
					if err != nil {
						fsm.sendNotificationFromErrorMsg(h.conn, err.(*bgp.MessageError))
						return bgp.BGP_FSM_IDLE
					}
					fsm.peerInfo.ID = body.ID.To4()
					fsm.negotiateHoldTime(body.HoldTime)

					e := &fsmMsg{
						MsgType: FSM_MSG_BGP_MESSAGE,
						MsgData: m,
					}
					h.incoming <- e
					msg := bgp.NewBGPKeepAliveMessage()
					b, _ := msg.Serialize()
					fsm.conn.Write(b)
					fsm.bgpMessageStateUpdate(msg.Header.Type, false)
					return bgp.BGP_FSM_OPENCONFIRM
				}
				// getting anything but OPEN here is an FSM error
				fsm.sendNotification(h.conn, bgp.BGP_ERROR_FSM_ERROR, 0, nil, "unexpected message while waiting for open")
				return bgp.BGP_FSM_IDLE
			case *bgp.MessageError:
				fsm.sendNotificationFromErrorMsg(h.conn, e.MsgData.(*bgp.MessageError))
				return bgp.BGP_FSM_IDLE
			default:
				log.WithFields(log.Fields{
					"Topic": "Peer",
					"Key":   fsm.peerConfig.NeighborAddress,
					"Data":  e.MsgData,
				}).Panic("unknown msg type")
			}
		case <-h.errorCh:
			h.conn.Close()
			// the peer may simply not be up yet; fall back to
			// waiting instead of burning the idle hold time.
			return bgp.BGP_FSM_ACTIVE
		case <-holdTimer.C:
			fsm.sendNotification(h.conn, bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil, "hold timer expired")
			h.t.Kill(nil)
			return bgp.BGP_FSM_IDLE
		}
	}
}

func (h *FSMHandler) openconfirm() bgp.FSMState {
	fsm := h.fsm

	h.msgCh = make(chan *fsmMsg)
	h.conn = fsm.conn

	h.t.Go(h.recvMessage)

	var holdTimer *time.Timer
	if fsm.negotiatedHoldTime == 0 {
		fsm.keepaliveTicker = &time.Ticker{}
		holdTimer = &time.Timer{}
	} else {
		sec := time.Duration(fsm.keepaliveInterval * float64(time.Second))
		fsm.keepaliveTicker = time.NewTicker(sec)

		// RFC 4271 P.65: the hold timer now runs at the
		// negotiated value.
		holdTimer = time.NewTimer(time.Second * time.Duration(fsm.negotiatedHoldTime))
	}

	for {
		select {
		case <-h.t.Dying():
			h.conn.Close()
			return 0
		case conn, ok := <-fsm.connCh:
			if !ok {
				break
			}
			conn.Close()
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
			}).Warn("closed an accepted connection")
		case <-fsm.keepaliveTicker.C:
			m := bgp.NewBGPKeepAliveMessage()
			b, _ := m.Serialize()
			fsm.conn.Write(b)
			fsm.bgpMessageStateUpdate(m.Header.Type, false)
		case e := <-h.msgCh:
			switch e.MsgData.(type) {
			case *bgp.BGPMessage:
				m := e.MsgData.(*bgp.BGPMessage)
				switch m.Header.Type {
				case bgp.BGP_MSG_KEEPALIVE:
					return bgp.BGP_FSM_ESTABLISHED
				case bgp.BGP_MSG_NOTIFICATION:
					body := m.Body.(*bgp.BGPNotification)
					log.WithFields(log.Fields{
						"Topic": "Peer",
						"Key":   fsm.peerConfig.NeighborAddress,
						"Code":  body.ErrorCode,
						"Sub":   body.ErrorSubcode,
					}).Warn("notification received")
					h.conn.Close()
					return bgp.BGP_FSM_IDLE
				default:
					fsm.sendNotification(h.conn, bgp.BGP_ERROR_FSM_ERROR, 0, nil, "unexpected message while waiting for keepalive")
					return bgp.BGP_FSM_IDLE
				}
			case *bgp.MessageError:
				fsm.sendNotificationFromErrorMsg(h.conn, e.MsgData.(*bgp.MessageError))
				return bgp.BGP_FSM_IDLE
			default:
				log.WithFields(log.Fields{
					"Topic": "Peer",
					"Key":   fsm.peerConfig.NeighborAddress,
					"Data":  e.MsgData,
				}).Panic("unknown msg type")
			}
		case <-h.errorCh:
			h.conn.Close()
			return bgp.BGP_FSM_IDLE
		case <-holdTimer.C:
			fsm.sendNotification(h.conn, bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil, "hold timer expired")
			h.t.Kill(nil)
			return bgp.BGP_FSM_IDLE
		}
	}
}

func (h *FSMHandler) sendMessageloop() error {
	conn := h.conn
	fsm := h.fsm
	send := func(m *bgp.BGPMessage) error {
		b, err := m.Serialize()
		if err != nil {
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
				"Data":  err,
			}).Warn("failed to serialize")
			return nil
		}
		_, err = conn.Write(b)
		if err != nil {
			h.errorCh <- true
			return fmt.Errorf("closed")
		}
		fsm.bgpMessageStateUpdate(m.Header.Type, false)

		if m.Header.Type == bgp.BGP_MSG_NOTIFICATION {
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
				"Data":  m,
			}).Warn("sent notification")

			h.errorCh <- true
			conn.Close()
			return fmt.Errorf("closed")
		}
		log.WithFields(log.Fields{
			"Topic": "Peer",
			"Key":   fsm.peerConfig.NeighborAddress,
			"data":  m,
		}).Debug("sent")
		return nil
	}

	for {
		select {
		case <-h.t.Dying():
			// send what is queued before we die so a
			// NOTIFICATION for the teardown reason gets out.
			for h.outgoing.Len() > 0 {
				if m, ok := (<-h.outgoing.Out()).(*bgp.BGPMessage); ok {
					if err := send(m); err != nil {
						return nil
					}
				}
			}
			return nil
		case o := <-h.outgoing.Out():
			m, ok := o.(*bgp.BGPMessage)
			if !ok {
				continue
			}
			if err := send(m); err != nil {
				return nil
			}
		case <-fsm.keepaliveTicker.C:
			m := bgp.NewBGPKeepAliveMessage()
			if err := send(m); err != nil {
				return nil
			}
		}
	}
}

func (h *FSMHandler) recvMessageloop() error {
	for {
		err := h.recvMessageWithError()
		if err != nil {
			return nil
		}
	}
}

func (h *FSMHandler) established() bgp.FSMState {
	fsm := h.fsm
	h.conn = fsm.conn
	h.t.Go(h.sendMessageloop)
	h.msgCh = h.incoming
	h.t.Go(h.recvMessageloop)

	var holdTimer *time.Timer
	if fsm.negotiatedHoldTime == 0 {
		holdTimer = &time.Timer{}
	} else {
		holdTimer = time.NewTimer(time.Second * time.Duration(fsm.negotiatedHoldTime))
	}

	for {
		select {
		case <-h.t.Dying():
			h.conn.Close()
			return 0
		case conn, ok := <-fsm.connCh:
			if !ok {
				break
			}
			conn.Close()
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
			}).Warn("closed an accepted connection")
		case <-h.errorCh:
			h.conn.Close()
			h.t.Kill(nil)
			return bgp.BGP_FSM_IDLE
		case <-holdTimer.C:
			log.WithFields(log.Fields{
				"Topic": "Peer",
				"Key":   fsm.peerConfig.NeighborAddress,
			}).Warn("hold timer expired")
			m := bgp.NewBGPNotificationMessage(bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil)
			h.outgoing.In() <- m
			return bgp.BGP_FSM_IDLE
		case <-h.holdTimerResetCh:
			if fsm.negotiatedHoldTime != 0 {
				// drop an expiry that fired before this reset
				if !holdTimer.Stop() {
					select {
					case <-holdTimer.C:
					default:
					}
				}
				holdTimer.Reset(time.Second * time.Duration(fsm.negotiatedHoldTime))
			}
		}
	}
}

func (h *FSMHandler) loop() error {
	fsm := h.fsm
	nextState := bgp.FSMState(0)
	switch fsm.state {
	case bgp.BGP_FSM_IDLE:
		nextState = h.idle()
	case bgp.BGP_FSM_CONNECT:
		nextState = h.connect()
	case bgp.BGP_FSM_ACTIVE:
		nextState = h.active()
	case bgp.BGP_FSM_OPENSENT:
		nextState = h.opensent()
	case bgp.BGP_FSM_OPENCONFIRM:
		nextState = h.openconfirm()
	case bgp.BGP_FSM_ESTABLISHED:
		nextState = h.established()
	}

	// zero means tomb.Dying()
	if nextState >= bgp.BGP_FSM_IDLE {
		e := &fsmMsg{
			MsgType: FSM_MSG_STATE_CHANGE,
			MsgData: nextState,
		}
		h.incoming <- e
	}
	return nil
}
