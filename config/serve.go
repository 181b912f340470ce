package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ReadConfigfileServe reads the config file once per tick of reloadCh
// and publishes the parsed result. The first failure is fatal, later
// ones only log so a broken edit doesn't kill a running daemon.
func ReadConfigfileServe(path, format string, configCh chan Bgp, reloadCh chan bool) {
	cnt := 0
	for {
		<-reloadCh

		b := Bgp{}
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType(format)
		err := v.ReadInConfig()
		if err != nil {
			goto ERROR
		}
		err = v.Unmarshal(&b, viper.DecodeHook(mapstructure.StringToIPHookFunc()))
		if err != nil {
			goto ERROR
		}
		err = SetDefaultConfigValues(v, &b)
		if err != nil {
			goto ERROR
		}

		if cnt == 0 {
			log.Info("finished reading the config file")
		}
		cnt++
		configCh <- b
		continue

	ERROR:
		if cnt == 0 {
			log.Fatal("can't read config file ", path, ", ", err)
		} else {
			log.Warning("can't read config file ", path, ", ", err)
			continue
		}
	}
}

func inSlice(n Neighbor, b []Neighbor) int {
	for i, nb := range b {
		if nb.NeighborAddress.Equal(n.NeighborAddress) {
			return i
		}
	}
	return -1
}

// UpdateConfig diffs a freshly loaded config against the running one
// and reports the neighbors to add and to delete. The global section
// can't change at runtime.
func UpdateConfig(curC *Bgp, newC *Bgp) (*Bgp, []Neighbor, []Neighbor) {
	bgpConfig := Bgp{}
	if curC == nil {
		bgpConfig.Global = newC.Global
		curC = &bgpConfig
	} else {
		bgpConfig.Global = curC.Global
	}
	added := []Neighbor{}
	deleted := []Neighbor{}

	for _, n := range newC.Neighbors {
		if idx := inSlice(n, curC.Neighbors); idx < 0 {
			added = append(added, n)
		} else if !reflect.DeepEqual(n, curC.Neighbors[idx]) {
			deleted = append(deleted, curC.Neighbors[idx])
			added = append(added, n)
		}
	}
	for _, n := range curC.Neighbors {
		if inSlice(n, newC.Neighbors) < 0 {
			deleted = append(deleted, n)
		}
	}

	bgpConfig.Neighbors = newC.Neighbors
	return &bgpConfig, added, deleted
}
