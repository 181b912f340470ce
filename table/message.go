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

package table

import (
	"time"

	"github.com/routemachine/routemachine/packet"
)

// ProcessMessage converts a validated UPDATE into the paths it
// carries, tagged with the advertising peer.
type ProcessMessage struct {
	innerMessage *bgp.BGPMessage
	fromPeer     *PeerInfo
}

func NewProcessMessage(m *bgp.BGPMessage, peerInfo *PeerInfo) *ProcessMessage {
	return &ProcessMessage{
		innerMessage: m,
		fromPeer:     peerInfo,
	}
}

func (p *ProcessMessage) nlri2Path(now time.Time) []*Path {
	updateMsg := p.innerMessage.Body.(*bgp.BGPUpdate)
	pathAttributes := updateMsg.PathAttributes
	pathList := make([]*Path, 0, len(updateMsg.NLRI))
	for _, nlri := range updateMsg.NLRI {
		prefix := nlri.IPAddrPrefix
		path := NewPath(p.fromPeer, &prefix, pathAttributes, false, now)
		pathList = append(pathList, path)
	}
	return pathList
}

func (p *ProcessMessage) withdraw2Path(now time.Time) []*Path {
	updateMsg := p.innerMessage.Body.(*bgp.BGPUpdate)
	pathList := make([]*Path, 0, len(updateMsg.WithdrawnRoutes))
	for _, w := range updateMsg.WithdrawnRoutes {
		prefix := w.IPAddrPrefix
		path := NewPath(p.fromPeer, &prefix, nil, true, now)
		pathList = append(pathList, path)
	}
	return pathList
}

// ToPathList yields withdrawals first, then announcements, matching
// the decision-process order.
func (p *ProcessMessage) ToPathList() []*Path {
	pathList := make([]*Path, 0)
	if p.innerMessage.Header.Type != bgp.BGP_MSG_UPDATE {
		return pathList
	}
	now := time.Now()
	pathList = append(pathList, p.withdraw2Path(now)...)
	pathList = append(pathList, p.nlri2Path(now)...)
	return pathList
}

// CreateUpdateMsgFromPath builds the UPDATE that advertises (or
// withdraws) a single path.
func CreateUpdateMsgFromPath(path *Path) *bgp.BGPMessage {
	if path.IsWithdraw() {
		w := bgp.WithdrawnRoute{IPAddrPrefix: *path.GetNlri()}
		return bgp.NewBGPUpdateMessage([]bgp.WithdrawnRoute{w}, []bgp.PathAttributeInterface{}, []bgp.NLRInfo{})
	}
	n := bgp.NLRInfo{IPAddrPrefix: *path.GetNlri()}
	return bgp.NewBGPUpdateMessage([]bgp.WithdrawnRoute{}, path.GetPathAttrs(), []bgp.NLRInfo{n})
}
