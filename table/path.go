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
	"bytes"
	"fmt"
	"net"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/routemachine/routemachine/packet"
)

const DEFAULT_LOCAL_PREF = 100

// PeerInfo identifies the session a route was learned on. A nil
// PeerInfo on a Path marks a locally originated network.
type PeerInfo struct {
	AS           uint16
	LocalAS      uint16
	ID           net.IP
	LocalID      net.IP
	Address      net.IP
	LocalAddress net.IP
}

func (i *PeerInfo) IsEBGP() bool {
	return i.AS != i.LocalAS
}

func (i *PeerInfo) Equal(other *PeerInfo) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.AS == other.AS && i.Address.Equal(other.Address)
}

func (i *PeerInfo) String() string {
	if i == nil {
		return "local"
	}
	return fmt.Sprintf("AS%d/%s", i.AS, i.Address)
}

type Path struct {
	source    *PeerInfo
	nlri      *bgp.IPAddrPrefix
	attrs     map[bgp.BGPAttrType]bgp.PathAttributeInterface
	withdraw  bool
	timestamp time.Time
}

func NewPath(source *PeerInfo, nlri *bgp.IPAddrPrefix, attrs []bgp.PathAttributeInterface, isWithdraw bool, now time.Time) *Path {
	if !isWithdraw && attrs == nil {
		log.WithFields(log.Fields{
			"Topic": "Table",
			"Key":   nlri.String(),
		}).Error("need to provide patattrs for path that is not a withdraw")
		return nil
	}
	m := make(map[bgp.BGPAttrType]bgp.PathAttributeInterface)
	for _, a := range attrs {
		m[a.GetType()] = a
	}
	return &Path{
		source:    source,
		nlri:      nlri,
		attrs:     m,
		withdraw:  isWithdraw,
		timestamp: now,
	}
}

func (p *Path) GetSource() *PeerInfo {
	return p.source
}

func (p *Path) GetNlri() *bgp.IPAddrPrefix {
	return p.nlri
}

func (p *Path) GetPrefix() string {
	return p.nlri.String()
}

func (p *Path) IsWithdraw() bool {
	return p.withdraw
}

func (p *Path) IsLocal() bool {
	return p.source == nil
}

func (p *Path) IsIBGP() bool {
	return p.source != nil && !p.source.IsEBGP()
}

func (p *Path) GetTimestamp() time.Time {
	return p.timestamp
}

func (p *Path) GetPathAttr(t bgp.BGPAttrType) bgp.PathAttributeInterface {
	return p.attrs[t]
}

// GetPathAttrs returns the attributes ordered by type code, which keeps
// serialization deterministic.
func (p *Path) GetPathAttrs() []bgp.PathAttributeInterface {
	types := make([]int, 0, len(p.attrs))
	for t := range p.attrs {
		types = append(types, int(t))
	}
	sort.Ints(types)
	ret := make([]bgp.PathAttributeInterface, 0, len(types))
	for _, t := range types {
		ret = append(ret, p.attrs[bgp.BGPAttrType(t)])
	}
	return ret
}

func (p *Path) GetLocalPref() uint32 {
	if a, ok := p.attrs[bgp.BGP_ATTR_TYPE_LOCAL_PREF]; ok {
		return a.(*bgp.PathAttributeLocalPref).Value
	}
	return DEFAULT_LOCAL_PREF
}

// GetAsPathLen counts a SEQUENCE segment as its number of ASes and a
// SET segment as one.
func (p *Path) GetAsPathLen() int {
	a, ok := p.attrs[bgp.BGP_ATTR_TYPE_AS_PATH]
	if !ok {
		return 0
	}
	length := 0
	for _, param := range a.(*bgp.PathAttributeAsPath).Value {
		if param.Type == bgp.BGP_ASPATH_ATTR_TYPE_SET {
			length += 1
		} else {
			length += param.ASLen()
		}
	}
	return length
}

// GetFirstAS returns the leftmost AS number of the AS_PATH, 0 when the
// path is empty.
func (p *Path) GetFirstAS() uint16 {
	a, ok := p.attrs[bgp.BGP_ATTR_TYPE_AS_PATH]
	if !ok {
		return 0
	}
	for _, param := range a.(*bgp.PathAttributeAsPath).Value {
		if len(param.AS) > 0 {
			return param.AS[0]
		}
	}
	return 0
}

func (p *Path) GetOrigin() uint8 {
	if a, ok := p.attrs[bgp.BGP_ATTR_TYPE_ORIGIN]; ok {
		return a.(*bgp.PathAttributeOrigin).Origin()
	}
	return bgp.BGP_ORIGIN_ATTR_TYPE_INCOMPLETE
}

func (p *Path) GetMed() uint32 {
	if a, ok := p.attrs[bgp.BGP_ATTR_TYPE_MULTI_EXIT_DISC]; ok {
		return a.(*bgp.PathAttributeMultiExitDisc).Value
	}
	return 0
}

func (p *Path) GetNexthop() net.IP {
	if a, ok := p.attrs[bgp.BGP_ATTR_TYPE_NEXT_HOP]; ok {
		return a.(*bgp.PathAttributeNextHop).Value
	}
	return nil
}

func (p *Path) setPathAttr(a bgp.PathAttributeInterface) {
	p.attrs[a.GetType()] = a
}

// Equal reports whether two paths carry the same attributes. It is used
// by the outbound Adj-RIB to suppress duplicate advertisements.
func (p *Path) Equal(other *Path) bool {
	if other == nil || len(p.attrs) != len(other.attrs) {
		return false
	}
	for t, a := range p.attrs {
		b, ok := other.attrs[t]
		if !ok {
			return false
		}
		abuf, err := a.Serialize()
		if err != nil {
			return false
		}
		bbuf, err := b.Serialize()
		if err != nil {
			return false
		}
		if !bytes.Equal(abuf, bbuf) {
			return false
		}
	}
	return true
}

func (p *Path) Clone(isWithdraw bool) *Path {
	attrs := make(map[bgp.BGPAttrType]bgp.PathAttributeInterface, len(p.attrs))
	for t, a := range p.attrs {
		attrs[t] = a
	}
	return &Path{
		source:    p.source,
		nlri:      p.nlri,
		attrs:     attrs,
		withdraw:  isWithdraw,
		timestamp: p.timestamp,
	}
}

func cloneAsPath(a *bgp.PathAttributeAsPath) *bgp.PathAttributeAsPath {
	params := make([]*bgp.AsPathParam, 0, len(a.Value))
	for _, param := range a.Value {
		asList := make([]uint16, len(param.AS))
		copy(asList, param.AS)
		params = append(params, bgp.NewAsPathParam(param.Type, asList))
	}
	return bgp.NewPathAttributeAsPath(params)
}

// UpdatePathAttrs produces the path as it must be advertised to the
// given peer. To an eBGP peer the local AS is prepended and the nexthop
// rewritten to our own address; to an iBGP peer the attributes are
// preserved, except that LOCAL_PREF is materialized when absent since
// it is mandatory on interior sessions.
func (p *Path) UpdatePathAttrs(peer *PeerInfo) *Path {
	out := p.Clone(p.withdraw)
	if p.withdraw {
		return out
	}
	if peer.IsEBGP() {
		var asPath *bgp.PathAttributeAsPath
		if a, ok := p.attrs[bgp.BGP_ATTR_TYPE_AS_PATH]; ok {
			asPath = cloneAsPath(a.(*bgp.PathAttributeAsPath))
		} else {
			asPath = bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{})
		}
		asPath.Prepend(peer.LocalAS)
		out.setPathAttr(asPath)
		out.setPathAttr(bgp.NewPathAttributeNextHop(peer.LocalAddress.String()))
	} else {
		if _, ok := p.attrs[bgp.BGP_ATTR_TYPE_LOCAL_PREF]; !ok {
			out.setPathAttr(bgp.NewPathAttributeLocalPref(p.GetLocalPref()))
		}
		if p.GetNexthop() == nil {
			out.setPathAttr(bgp.NewPathAttributeNextHop(peer.LocalAddress.String()))
		}
	}
	return out
}

func (p *Path) String() string {
	if p.withdraw {
		return fmt.Sprintf("withdraw %s from %s", p.GetPrefix(), p.source)
	}
	return fmt.Sprintf("%s nexthop %s from %s", p.GetPrefix(), p.GetNexthop(), p.source)
}
