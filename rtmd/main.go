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

// rtmd is the kernel route monitor. It mirrors externally introduced
// main-table routes to stdout as fixed-shape frames and applies
// install/withdraw commands arriving on stdin through netlink. EOF on
// stdin is the shutdown signal.
package main

import (
	"bufio"
	"io"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/routemachine/routemachine/rtm"
)

func fatal(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	rtm.WriteMessage(os.Stdout, &rtm.Message{
		Cmd:    rtm.RTM_CMD_ROUTE_ERR,
		ErrMsg: msg,
	})
	log.Error(msg)
	os.Exit(1)
}

// ours reports whether we installed the route ourselves; those must
// not be echoed back.
func ours(route *netlink.Route) bool {
	return route.Protocol == netlink.RouteProtocol(rtm.RTM_ROUTE_PROTOCOL)
}

func routeToMessage(cmd uint8, route *netlink.Route) *rtm.Message {
	family := uint8(unix.AF_INET)
	addrlen := net.IPv4len
	m := &rtm.Message{
		Cmd:  cmd,
		Prio: uint32(route.Priority),
	}
	if route.Dst != nil {
		if route.Dst.IP.To4() == nil {
			family = unix.AF_INET6
			addrlen = net.IPv6len
		}
		ones, _ := route.Dst.Mask.Size()
		m.Mask = uint8(ones)
		m.Dst = route.Dst.IP
	} else if route.Gw != nil && route.Gw.To4() == nil {
		family = unix.AF_INET6
		addrlen = net.IPv6len
	}
	m.Family = family
	if m.Dst == nil {
		m.Dst = make(net.IP, addrlen)
	}
	if route.Gw != nil {
		m.Gw = route.Gw
	} else {
		m.Gw = make(net.IP, addrlen)
	}
	return m
}

func emit(w io.Writer, cmd uint8, route *netlink.Route) {
	if ours(route) || route.Table != unix.RT_TABLE_MAIN {
		return
	}
	if err := rtm.WriteMessage(w, routeToMessage(cmd, route)); err != nil {
		fatal("can't write route frame", err)
	}
}

// applyCommand executes one install/withdraw request from the daemon.
// A failure is reported as an ERR frame but doesn't kill the monitor;
// the kernel state simply stays as it was.
func applyCommand(m *rtm.Message) {
	route := &netlink.Route{
		Dst:      m.IPNet(),
		Protocol: netlink.RouteProtocol(rtm.RTM_ROUTE_PROTOCOL),
	}
	var err error
	switch m.Cmd {
	case rtm.RTM_CMD_ROUTE_ADD:
		route.Gw = m.Gw
		route.Priority = int(m.Prio)
		err = netlink.RouteReplace(route)
	case rtm.RTM_CMD_ROUTE_DEL:
		err = netlink.RouteDel(route)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"Topic": "Rtm",
			"Key":   m.IPNet().String(),
			"error": err,
		}).Error("can't apply route command")
		rtm.WriteMessage(os.Stdout, &rtm.Message{
			Cmd:    rtm.RTM_CMD_ROUTE_ERR,
			ErrMsg: "route command failed: " + err.Error(),
		})
	}
}

func main() {
	log.SetOutput(os.Stderr)

	done := make(chan struct{})
	routeCh := make(chan netlink.RouteUpdate, 64)
	if err := netlink.RouteSubscribe(routeCh, done); err != nil {
		fatal("can't subscribe to route updates", err)
	}
	// the original also joined the link and ifaddr groups; their
	// events carry no route payload so they are only logged.
	linkCh := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribe(linkCh, done); err != nil {
		fatal("can't subscribe to link updates", err)
	}
	addrCh := make(chan netlink.AddrUpdate, 16)
	if err := netlink.AddrSubscribe(addrCh, done); err != nil {
		fatal("can't subscribe to address updates", err)
	}

	// commands come in on stdin; EOF there means the daemon is gone
	// and we leave with it.
	cmdCh := make(chan *rtm.Message, 16)
	eofCh := make(chan struct{})
	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			m, err := rtm.ParseMessage(r)
			if err != nil {
				close(eofCh)
				return
			}
			cmdCh <- m
		}
	}()

	// replay the current table once so pre-existing state is visible
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		fatal("can't dump routes", err)
	}
	for i := range routes {
		emit(os.Stdout, rtm.RTM_CMD_ROUTE_ADD, &routes[i])
	}

	for {
		select {
		case <-eofCh:
			close(done)
			os.Exit(0)
		case m := <-cmdCh:
			applyCommand(m)
		case u, ok := <-routeCh:
			if !ok {
				fatal("route subscription closed", nil)
			}
			switch u.Type {
			case unix.RTM_NEWROUTE:
				emit(os.Stdout, rtm.RTM_CMD_ROUTE_ADD, &u.Route)
			case unix.RTM_DELROUTE:
				emit(os.Stdout, rtm.RTM_CMD_ROUTE_DEL, &u.Route)
			}
		case u := <-linkCh:
			log.WithFields(log.Fields{
				"Topic": "Rtm",
				"Key":   u.Link.Attrs().Name,
			}).Debug("link changed")
		case u := <-addrCh:
			log.WithFields(log.Fields{
				"Topic": "Rtm",
				"Key":   u.LinkAddress.String(),
			}).Debug("address changed")
		}
	}
}
