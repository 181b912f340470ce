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

// Package rtm is the frame codec spoken between the speaker and the
// kernel route monitor over its stdin/stdout pipes. Route frames are
// laid out as
//
//	cmd(1) | family(1) | mask(1) | dst(ceil(mask/8)) | gw(4 or 16) | prio(4, BE)
//
// in both directions; error frames are cmd(1) | msglen(1) | msg.
package rtm

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

const (
	RTM_CMD_ROUTE_ADD = 0
	RTM_CMD_ROUTE_DEL = 1
	RTM_CMD_ROUTE_ERR = 255
)

// RTM_ROUTE_PROTOCOL marks the kernel routes installed by this
// speaker, so the monitor can tell them apart from external ones.
const RTM_ROUTE_PROTOCOL = unix.RTPROT_BGP

type Message struct {
	Cmd    uint8
	Family uint8 // unix.AF_INET or unix.AF_INET6
	Mask   uint8
	Dst    net.IP
	Gw     net.IP
	Prio   uint32
	ErrMsg string
}

func (m *Message) addrLen() (int, error) {
	switch m.Family {
	case unix.AF_INET:
		return net.IPv4len, nil
	case unix.AF_INET6:
		return net.IPv6len, nil
	}
	return 0, fmt.Errorf("bad route frame family %d", m.Family)
}

func (m *Message) Serialize() ([]byte, error) {
	if m.Cmd == RTM_CMD_ROUTE_ERR {
		if len(m.ErrMsg) > 255 {
			m.ErrMsg = m.ErrMsg[:255]
		}
		buf := []byte{RTM_CMD_ROUTE_ERR, uint8(len(m.ErrMsg))}
		return append(buf, m.ErrMsg...), nil
	}

	addrlen, err := m.addrLen()
	if err != nil {
		return nil, err
	}
	if int(m.Mask) > addrlen*8 {
		return nil, fmt.Errorf("mask %d is too long for the address family", m.Mask)
	}
	dstlen := (int(m.Mask) + 7) / 8
	buf := make([]byte, 3, 3+dstlen+addrlen+4)
	buf[0] = m.Cmd
	buf[1] = m.Family
	buf[2] = m.Mask

	dst := make([]byte, addrlen)
	if m.Dst != nil {
		if m.Family == unix.AF_INET {
			copy(dst, m.Dst.To4())
		} else {
			copy(dst, m.Dst.To16())
		}
	}
	buf = append(buf, dst[:dstlen]...)

	gw := make([]byte, addrlen)
	if m.Gw != nil {
		if m.Family == unix.AF_INET {
			copy(gw, m.Gw.To4())
		} else {
			copy(gw, m.Gw.To16())
		}
	}
	buf = append(buf, gw...)

	prio := make([]byte, 4)
	binary.BigEndian.PutUint32(prio, m.Prio)
	return append(buf, prio...), nil
}

// ParseMessage reads exactly one frame. io.EOF at a frame boundary is
// passed through so the caller can detect a clean shutdown.
func ParseMessage(r io.Reader) (*Message, error) {
	hdr := make([]byte, 1)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	m := &Message{Cmd: hdr[0]}

	if m.Cmd == RTM_CMD_ROUTE_ERR {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, err
		}
		msg := make([]byte, hdr[0])
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, err
		}
		m.ErrMsg = string(msg)
		return m, nil
	}
	if m.Cmd != RTM_CMD_ROUTE_ADD && m.Cmd != RTM_CMD_ROUTE_DEL {
		return nil, fmt.Errorf("bad route frame command %d", m.Cmd)
	}

	rest := make([]byte, 2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	m.Family = rest[0]
	m.Mask = rest[1]
	addrlen, err := m.addrLen()
	if err != nil {
		return nil, err
	}
	if int(m.Mask) > addrlen*8 {
		return nil, fmt.Errorf("mask %d is too long for the address family", m.Mask)
	}

	dstlen := (int(m.Mask) + 7) / 8
	body := make([]byte, dstlen+addrlen+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	dst := make([]byte, addrlen)
	copy(dst, body[:dstlen])
	m.Dst = net.IP(dst)
	m.Gw = net.IP(body[dstlen : dstlen+addrlen])
	m.Prio = binary.BigEndian.Uint32(body[dstlen+addrlen:])
	return m, nil
}

// WriteMessage serializes and writes one frame.
func WriteMessage(w io.Writer, m *Message) error {
	buf, err := m.Serialize()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// IPNet returns the destination as a *net.IPNet.
func (m *Message) IPNet() *net.IPNet {
	bits := 8 * net.IPv4len
	if m.Family == unix.AF_INET6 {
		bits = 8 * net.IPv6len
	}
	return &net.IPNet{
		IP:   m.Dst,
		Mask: net.CIDRMask(int(m.Mask), bits),
	}
}
