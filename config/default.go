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

package config

import (
	"fmt"
	"net"

	"github.com/spf13/viper"
)

const (
	DEFAULT_LISTEN_PORT        = 1179
	DEFAULT_HOLDTIME           = 90
	DEFAULT_CONNECT_RETRY      = 120
	DEFAULT_IDLE_HOLDTIME      = 5
	DEFAULT_ESTABLISHMENT_MODE = ESTABLISHMENT_MODE_ACTIVE
)

// SetDefaultConfigValues fills the optional knobs and rejects configs
// the daemon could not run with.
func SetDefaultConfigValues(v *viper.Viper, b *Bgp) error {
	if b.Global.As == 0 {
		return fmt.Errorf("global as number is not configured")
	}
	if b.Global.LocalAddress == nil {
		return fmt.Errorf("global local address is not configured")
	}
	if b.Global.RouterId == nil {
		b.Global.RouterId = b.Global.LocalAddress
	}
	if b.Global.RouterId.To4() == nil {
		return fmt.Errorf("router id must be an IPv4 address")
	}
	if !v.IsSet("global.port") {
		b.Global.Port = DEFAULT_LISTEN_PORT
	}
	for _, network := range b.Global.Networks {
		if _, _, err := net.ParseCIDR(network); err != nil {
			return fmt.Errorf("can't parse network %s: %s", network, err)
		}
	}

	if len(b.Neighbors) == 0 {
		return fmt.Errorf("no neighbor is configured")
	}
	for i := range b.Neighbors {
		n := &b.Neighbors[i]
		if n.PeerAs == 0 {
			return fmt.Errorf("neighbor as number is not configured")
		}
		if n.NeighborAddress == nil {
			return fmt.Errorf("neighbor address is not configured")
		}
		if !v.IsSet(fmt.Sprintf("neighbors.%d.timers.holdtime", i)) && n.Timers.HoldTime == 0 {
			n.Timers.HoldTime = DEFAULT_HOLDTIME
		}
		if n.Timers.HoldTime != 0 && n.Timers.HoldTime < 3 {
			return fmt.Errorf("neighbor %s hold time must be 0 or at least 3", n.NeighborAddress)
		}
		if n.Timers.KeepaliveInterval == 0 || n.Timers.KeepaliveInterval > n.Timers.HoldTime/3 {
			n.Timers.KeepaliveInterval = n.Timers.HoldTime / 3
		}
		if n.Timers.ConnectRetry == 0 {
			n.Timers.ConnectRetry = DEFAULT_CONNECT_RETRY
		}
		if n.Timers.IdleHoldTime == 0 {
			n.Timers.IdleHoldTime = DEFAULT_IDLE_HOLDTIME
		}
		switch n.Establishment {
		case "":
			n.Establishment = DEFAULT_ESTABLISHMENT_MODE
		case ESTABLISHMENT_MODE_ACTIVE, ESTABLISHMENT_MODE_PASSIVE:
		default:
			return fmt.Errorf("neighbor %s establishment must be active or passive", n.NeighborAddress)
		}
	}
	return nil
}
