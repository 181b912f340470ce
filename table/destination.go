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

	log "github.com/sirupsen/logrus"

	"github.com/routemachine/routemachine/packet"
)

const (
	BPR_UNKNOWN    = "Unknown"
	BPR_ONLY_PATH  = "Only Path"
	BPR_LOCAL_PREF = "Local Pref"
	BPR_ASPATH     = "AS Path"
	BPR_ORIGIN     = "Origin"
	BPR_MED        = "MED"
	BPR_ASN        = "ASN"
	BPR_ROUTER_ID  = "Router ID"
)

// Destination holds every known path for one prefix and selects the
// best among them.
type Destination struct {
	nlri           *bgp.IPAddrPrefix
	knownPathList  []*Path
	withdrawList   []*Path
	newPathList    []*Path
	bestPath       *Path
	bestPathReason string
	RadixKey       string
}

func NewDestination(nlri *bgp.IPAddrPrefix) *Destination {
	return &Destination{
		nlri:          nlri,
		knownPathList: make([]*Path, 0),
		withdrawList:  make([]*Path, 0),
		newPathList:   make([]*Path, 0),
		RadixKey:      CidrToRadixkey(nlri.String()),
	}
}

func (dest *Destination) GetNlri() *bgp.IPAddrPrefix {
	return dest.nlri
}

func (dest *Destination) GetBestPath() *Path {
	return dest.bestPath
}

func (dest *Destination) GetBestPathReason() string {
	return dest.bestPathReason
}

func (dest *Destination) GetKnownPathList() []*Path {
	return dest.knownPathList
}

func (dest *Destination) addWithdraw(withdraw *Path) {
	dest.withdrawList = append(dest.withdrawList, withdraw)
}

func (dest *Destination) addNewPath(newPath *Path) {
	dest.newPathList = append(dest.newPathList, newPath)
}

// Calculate recomputes the best path after applying queued withdrawals
// and new paths. It returns the new best path, nil when no path
// remains.
func (dest *Destination) Calculate(localAS uint16) (*Path, string) {
	dest.removeWithdrawals()
	dest.removeOldPaths()
	dest.knownPathList = append(dest.knownPathList, dest.newPathList...)
	dest.newPathList = make([]*Path, 0)

	if len(dest.knownPathList) == 0 {
		dest.bestPath = nil
		dest.bestPathReason = BPR_UNKNOWN
		return nil, BPR_UNKNOWN
	}
	if len(dest.knownPathList) == 1 {
		dest.bestPath = dest.knownPathList[0]
		dest.bestPathReason = BPR_ONLY_PATH
		return dest.bestPath, BPR_ONLY_PATH
	}

	best := dest.knownPathList[0]
	reason := BPR_ONLY_PATH
	for _, path := range dest.knownPathList[1:] {
		winner, r := computeBestPath(localAS, best, path)
		if winner != nil {
			best = winner
			reason = r
		}
	}
	dest.bestPath = best
	dest.bestPathReason = reason

	log.WithFields(log.Fields{
		"Topic":  "Table",
		"Key":    dest.nlri.String(),
		"Path":   best,
		"Reason": reason,
	}).Debug("best path")

	return best, reason
}

// removeWithdrawals drops known paths matched by queued withdraws. A
// withdraw matches on the advertising peer.
func (dest *Destination) removeWithdrawals() {
	if len(dest.withdrawList) == 0 {
		return
	}
	for _, withdraw := range dest.withdrawList {
		found := false
		for i, path := range dest.knownPathList {
			if path.GetSource().Equal(withdraw.GetSource()) {
				dest.knownPathList = append(dest.knownPathList[:i], dest.knownPathList[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			log.WithFields(log.Fields{
				"Topic": "Table",
				"Key":   dest.nlri.String(),
				"Path":  withdraw,
			}).Debug("no matching path for withdraw found")
		}
	}
	dest.withdrawList = make([]*Path, 0)
}

// removeOldPaths implements implicit withdraw: a new path from a peer
// replaces whatever that peer advertised before.
func (dest *Destination) removeOldPaths() {
	for _, newPath := range dest.newPathList {
		for i, path := range dest.knownPathList {
			if path.GetSource().Equal(newPath.GetSource()) {
				dest.knownPathList = append(dest.knownPathList[:i], dest.knownPathList[i+1:]...)
				break
			}
		}
	}
}

// removePathsFromSource drops every path learned from the given peer
// and returns whether anything was removed.
func (dest *Destination) removePathsFromSource(source *PeerInfo) bool {
	removed := false
	remaining := make([]*Path, 0, len(dest.knownPathList))
	for _, path := range dest.knownPathList {
		if path.GetSource().Equal(source) {
			removed = true
		} else {
			remaining = append(remaining, path)
		}
	}
	dest.knownPathList = remaining
	return removed
}

// computeBestPath compares two paths with the tie-break chain:
// highest LOCAL_PREF, shortest AS_PATH, lowest ORIGIN, lowest MED
// (only between paths entering through the same neighboring AS), eBGP
// over iBGP, lowest router id. nil means the paths could not be told
// apart.
func computeBestPath(localAS uint16, path1, path2 *Path) (*Path, string) {
	if best := compareByLocalPref(path1, path2); best != nil {
		return best, BPR_LOCAL_PREF
	}
	if best := compareByASPath(path1, path2); best != nil {
		return best, BPR_ASPATH
	}
	if best := compareByOrigin(path1, path2); best != nil {
		return best, BPR_ORIGIN
	}
	if best := compareByMED(path1, path2); best != nil {
		return best, BPR_MED
	}
	if best := compareByASNumber(path1, path2); best != nil {
		return best, BPR_ASN
	}
	if best := compareByRouterID(path1, path2); best != nil {
		return best, BPR_ROUTER_ID
	}
	return nil, BPR_UNKNOWN
}

func compareByLocalPref(path1, path2 *Path) *Path {
	localPref1 := path1.GetLocalPref()
	localPref2 := path2.GetLocalPref()
	if localPref1 > localPref2 {
		return path1
	} else if localPref1 < localPref2 {
		return path2
	}
	return nil
}

func compareByASPath(path1, path2 *Path) *Path {
	l1 := path1.GetAsPathLen()
	l2 := path2.GetAsPathLen()
	if l1 < l2 {
		return path1
	} else if l1 > l2 {
		return path2
	}
	return nil
}

func compareByOrigin(path1, path2 *Path) *Path {
	origin1 := path1.GetOrigin()
	origin2 := path2.GetOrigin()
	if origin1 < origin2 {
		return path1
	} else if origin1 > origin2 {
		return path2
	}
	return nil
}

func compareByMED(path1, path2 *Path) *Path {
	if path1.GetFirstAS() != path2.GetFirstAS() {
		return nil
	}
	med1 := path1.GetMed()
	med2 := path2.GetMed()
	if med1 < med2 {
		return path1
	} else if med1 > med2 {
		return path2
	}
	return nil
}

func compareByASNumber(path1, path2 *Path) *Path {
	ebgp1 := path1.GetSource() != nil && path1.GetSource().IsEBGP()
	ebgp2 := path2.GetSource() != nil && path2.GetSource().IsEBGP()
	if ebgp1 && !ebgp2 {
		return path1
	} else if !ebgp1 && ebgp2 {
		return path2
	}
	return nil
}

func compareByRouterID(path1, path2 *Path) *Path {
	routerID := func(p *Path) []byte {
		if p.GetSource() == nil || p.GetSource().ID == nil {
			return []byte{0, 0, 0, 0}
		}
		return p.GetSource().ID.To4()
	}
	switch bytes.Compare(routerID(path1), routerID(path2)) {
	case -1:
		return path1
	case 1:
		return path2
	}
	return nil
}
