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

package bgp

const BGP_PORT = 179

type FSMState int

const (
	_ FSMState = iota
	BGP_FSM_IDLE
	BGP_FSM_CONNECT
	BGP_FSM_ACTIVE
	BGP_FSM_OPENSENT
	BGP_FSM_OPENCONFIRM
	BGP_FSM_ESTABLISHED
)

func (s FSMState) String() string {
	switch s {
	case BGP_FSM_IDLE:
		return "BGP_FSM_IDLE"
	case BGP_FSM_CONNECT:
		return "BGP_FSM_CONNECT"
	case BGP_FSM_ACTIVE:
		return "BGP_FSM_ACTIVE"
	case BGP_FSM_OPENSENT:
		return "BGP_FSM_OPENSENT"
	case BGP_FSM_OPENCONFIRM:
		return "BGP_FSM_OPENCONFIRM"
	case BGP_FSM_ESTABLISHED:
		return "BGP_FSM_ESTABLISHED"
	default:
		return "Unknown"
	}
}
