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

import "net"

type EstablishmentMode string

const (
	ESTABLISHMENT_MODE_ACTIVE  EstablishmentMode = "active"
	ESTABLISHMENT_MODE_PASSIVE EstablishmentMode = "passive"
)

type Global struct {
	As           uint16
	RouterId     net.IP
	LocalAddress net.IP
	Port         int
	// Networks lists the locally originated prefixes in CIDR form.
	Networks []string
}

type Timers struct {
	HoldTime          float64
	KeepaliveInterval float64
	ConnectRetry      float64
	IdleHoldTime      float64
}

type Neighbor struct {
	PeerAs          uint16
	NeighborAddress net.IP
	// PeerRouterId pins the BGP identifier the peer must present in
	// its OPEN; left unset, any identifier is accepted.
	PeerRouterId  net.IP
	Timers        Timers
	Establishment EstablishmentMode
}

type Bgp struct {
	Global    Global
	Neighbors []Neighbor
}
