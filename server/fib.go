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
	"bufio"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/routemachine/routemachine/packet"
	"github.com/routemachine/routemachine/rtm"
)

// routes we install carry this netlink priority
const FIB_ROUTE_PRIORITY = 100

// FibClient drives the kernel route monitor subprocess. Install and
// withdraw commands go down its stdin; externally introduced kernel
// routes come back up its stdout. Those notifications are advisory
// only, they never feed back into BGP state.
type FibClient struct {
	t     tomb.Tomb
	cmd   *exec.Cmd
	stdin io.WriteCloser
	mu    sync.Mutex
}

func NewFibClient(path string) (*FibClient, error) {
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	f := &FibClient{
		cmd:   cmd,
		stdin: stdin,
	}
	f.t.Go(func() error {
		return f.readEvents(bufio.NewReader(stdout))
	})
	log.WithFields(log.Fields{
		"Topic": "Fib",
		"Key":   path,
		"Pid":   cmd.Process.Pid,
	}).Info("route monitor started")
	return f, nil
}

func (f *FibClient) readEvents(r *bufio.Reader) error {
	for {
		m, err := rtm.ParseMessage(r)
		if err != nil {
			if err != io.EOF {
				log.WithFields(log.Fields{
					"Topic": "Fib",
					"error": err,
				}).Error("route monitor stream broke")
			}
			// the daemon keeps running either way; routes we
			// installed stay in the kernel unmaintained.
			return nil
		}
		switch m.Cmd {
		case rtm.RTM_CMD_ROUTE_ERR:
			log.WithFields(log.Fields{
				"Topic": "Fib",
				"Key":   m.ErrMsg,
			}).Error("route monitor reported an error")
		case rtm.RTM_CMD_ROUTE_ADD:
			log.WithFields(log.Fields{
				"Topic":   "Fib",
				"Key":     m.IPNet().String(),
				"Gateway": m.Gw,
				"Prio":    m.Prio,
			}).Info("external route added")
		case rtm.RTM_CMD_ROUTE_DEL:
			log.WithFields(log.Fields{
				"Topic": "Fib",
				"Key":   m.IPNet().String(),
			}).Info("external route deleted")
		}
	}
}

func (f *FibClient) send(m *rtm.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rtm.WriteMessage(f.stdin, m)
}

func (f *FibClient) SendRouteAdd(nlri *bgp.IPAddrPrefix, gw net.IP) error {
	return f.send(&rtm.Message{
		Cmd:    rtm.RTM_CMD_ROUTE_ADD,
		Family: unix.AF_INET,
		Mask:   nlri.Length,
		Dst:    nlri.Prefix,
		Gw:     gw,
		Prio:   FIB_ROUTE_PRIORITY,
	})
}

func (f *FibClient) SendRouteDel(nlri *bgp.IPAddrPrefix) error {
	return f.send(&rtm.Message{
		Cmd:    rtm.RTM_CMD_ROUTE_DEL,
		Family: unix.AF_INET,
		Mask:   nlri.Length,
		Dst:    nlri.Prefix,
	})
}

// Close signals the monitor by closing its stdin; on EOF the monitor
// drops the netlink socket and exits zero.
func (f *FibClient) Close() error {
	f.mu.Lock()
	f.stdin.Close()
	f.mu.Unlock()
	err := f.cmd.Wait()
	f.t.Kill(nil)
	f.t.Wait()
	return err
}
