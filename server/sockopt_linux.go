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
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// SetTcpTTLSockopts pins the TTL of a session, normally to 1 for an
// eBGP peer on a directly connected link.
func SetTcpTTLSockopts(conn *net.TCPConn, ttl int) error {
	level := unix.IPPROTO_IP
	name := unix.IP_TTL
	if strings.Contains(conn.RemoteAddr().String(), "[") {
		level = unix.IPPROTO_IPV6
		name = unix.IPV6_UNICAST_HOPS
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = os.NewSyscallError("setsockopt", unix.SetsockoptInt(int(fd), level, name, ttl))
	})
	if err != nil {
		return err
	}
	return serr
}
