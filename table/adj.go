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
	log "github.com/sirupsen/logrus"
)

// AdjRib is the per-peer route table, keyed by prefix. The same
// structure serves both directions; the out side additionally
// suppresses advertisements that would repeat what the peer already
// holds.
type AdjRib struct {
	table map[string]*Path
	out   bool
}

func NewAdjRibIn() *AdjRib {
	return &AdjRib{
		table: make(map[string]*Path),
		out:   false,
	}
}

func NewAdjRibOut() *AdjRib {
	return &AdjRib{
		table: make(map[string]*Path),
		out:   true,
	}
}

// Update applies the paths to the table and returns the ones that
// changed it. A withdraw for an unknown prefix and a duplicate
// outbound advertisement both return nothing.
func (adj *AdjRib) Update(pathList []*Path) []*Path {
	dir := "In"
	if adj.out {
		dir = "Out"
	}
	changed := make([]*Path, 0, len(pathList))
	for _, path := range pathList {
		key := path.GetNlri().String()
		old, found := adj.table[key]
		if path.IsWithdraw() {
			if !found {
				log.WithFields(log.Fields{
					"Topic": "AdjRib" + dir,
					"Key":   key,
				}).Debug("withdraw for unknown prefix")
				continue
			}
			delete(adj.table, key)
			changed = append(changed, path)
			continue
		}
		if adj.out && found && old.Equal(path) {
			log.WithFields(log.Fields{
				"Topic": "AdjRib" + dir,
				"Key":   key,
			}).Debug("duplicate advertisement suppressed")
			continue
		}
		adj.table[key] = path
		changed = append(changed, path)
	}
	return changed
}

func (adj *AdjRib) GetPathList() []*Path {
	pathList := make([]*Path, 0, len(adj.table))
	for _, path := range adj.table {
		pathList = append(pathList, path)
	}
	return pathList
}

func (adj *AdjRib) Count() int {
	return len(adj.table)
}

// DropAll empties the table and returns withdraw paths for everything
// it held.
func (adj *AdjRib) DropAll() []*Path {
	withdrawn := make([]*Path, 0, len(adj.table))
	for _, path := range adj.table {
		withdrawn = append(withdrawn, path.Clone(true))
	}
	adj.table = make(map[string]*Path)
	return withdrawn
}
