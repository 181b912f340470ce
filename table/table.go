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

	radix "github.com/armon/go-radix"
	log "github.com/sirupsen/logrus"

	"github.com/routemachine/routemachine/packet"
)

// CidrToRadixkey turns a CIDR string into the bit-string key used by
// the Loc-RIB radix tree.
func CidrToRadixkey(cidr string) string {
	var buffer bytes.Buffer
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}
	ones, _ := n.Mask.Size()
	for i, b := range n.IP {
		if i*8 >= ones {
			break
		}
		buffer.WriteString(fmt.Sprintf("%08b", b))
	}
	return buffer.String()[:ones]
}

// BestPathChange reports one prefix whose selected route changed.
// Best is nil when the prefix lost its last path.
type BestPathChange struct {
	Nlri   *bgp.IPAddrPrefix
	Best   *Path
	Old    *Path
	Reason string
}

// TableManager is the Loc-RIB. It must only ever be touched from the
// single RIB goroutine.
type TableManager struct {
	localAS      uint16
	destinations *radix.Tree
}

func NewTableManager(localAS uint16) *TableManager {
	return &TableManager{
		localAS:      localAS,
		destinations: radix.New(),
	}
}

func (manager *TableManager) getOrCreateDestination(nlri *bgp.IPAddrPrefix) *Destination {
	key := CidrToRadixkey(nlri.String())
	if v, found := manager.destinations.Get(key); found {
		return v.(*Destination)
	}
	dest := NewDestination(nlri)
	manager.destinations.Insert(key, dest)
	return dest
}

func (manager *TableManager) calculate(dest *Destination) *BestPathChange {
	old := dest.GetBestPath()
	best, reason := dest.Calculate(manager.localAS)

	if best == nil && len(dest.GetKnownPathList()) == 0 {
		manager.destinations.Delete(dest.RadixKey)
	}

	changed := false
	switch {
	case old == nil && best != nil:
		changed = true
	case old != nil && best == nil:
		changed = true
	case old != nil && best != nil:
		changed = !(old.GetSource().Equal(best.GetSource()) && old.Equal(best))
	}
	if !changed {
		return nil
	}
	return &BestPathChange{
		Nlri:   dest.GetNlri(),
		Best:   best,
		Old:    old,
		Reason: reason,
	}
}

// ProcessPaths runs the decision process over the given paths and
// returns the per-prefix best-path transitions, in the order the
// prefixes were first touched.
func (manager *TableManager) ProcessPaths(pathList []*Path) []*BestPathChange {
	dirty := make([]*Destination, 0, len(pathList))
	seen := make(map[string]struct{})
	for _, path := range pathList {
		if path == nil {
			continue
		}
		dest := manager.getOrCreateDestination(path.GetNlri())
		if path.IsWithdraw() {
			dest.addWithdraw(path)
		} else {
			dest.addNewPath(path)
		}
		if _, ok := seen[dest.RadixKey]; !ok {
			seen[dest.RadixKey] = struct{}{}
			dirty = append(dirty, dest)
		}
	}

	changes := make([]*BestPathChange, 0, len(dirty))
	for _, dest := range dirty {
		if c := manager.calculate(dest); c != nil {
			changes = append(changes, c)
		}
	}
	return changes
}

// DeletePathsByPeer withdraws everything learned from the given peer
// and reselects each affected prefix.
func (manager *TableManager) DeletePathsByPeer(peer *PeerInfo) []*BestPathChange {
	affected := make([]*Destination, 0)
	manager.destinations.Walk(func(key string, v interface{}) bool {
		dest := v.(*Destination)
		if dest.removePathsFromSource(peer) {
			affected = append(affected, dest)
		}
		return false
	})

	log.WithFields(log.Fields{
		"Topic": "Table",
		"Key":   peer,
		"Count": len(affected),
	}).Info("drop paths from peer")

	changes := make([]*BestPathChange, 0, len(affected))
	for _, dest := range affected {
		if c := manager.calculate(dest); c != nil {
			changes = append(changes, c)
		}
	}
	return changes
}

// GetBestPathList walks the Loc-RIB in radix order and returns every
// selected path.
func (manager *TableManager) GetBestPathList() []*Path {
	pathList := make([]*Path, 0, manager.destinations.Len())
	manager.destinations.Walk(func(key string, v interface{}) bool {
		if best := v.(*Destination).GetBestPath(); best != nil {
			pathList = append(pathList, best)
		}
		return false
	})
	return pathList
}

// GetDestination looks up one prefix, nil when unknown.
func (manager *TableManager) GetDestination(nlri *bgp.IPAddrPrefix) *Destination {
	if v, found := manager.destinations.Get(CidrToRadixkey(nlri.String())); found {
		return v.(*Destination)
	}
	return nil
}
