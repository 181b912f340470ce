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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/routemachine/routemachine/config"
	"github.com/routemachine/routemachine/server"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	var opts struct {
		ConfigFile string `short:"f" long:"config-file" description:"specifying a config file"`
		ConfigType string `short:"t" long:"config-type" description:"specifying config type (toml, yaml, json)" default:"toml"`
		LogLevel   string `short:"l" long:"log-level" description:"specifying log level"`
		LogJson    bool   `long:"log-json" description:"use json format for logging"`
		RtmPath    string `long:"rtm-path" description:"path to the kernel route monitor binary; kernel sync is disabled when unset"`
	}
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	switch opts.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	log.SetOutput(os.Stderr)
	if opts.LogJson {
		log.SetFormatter(&log.JSONFormatter{})
	}

	if opts.ConfigFile == "" {
		opts.ConfigFile = "rmd.conf"
	}

	configCh := make(chan config.Bgp)
	reloadCh := make(chan bool)
	go config.ReadConfigfileServe(opts.ConfigFile, opts.ConfigType, configCh, reloadCh)
	reloadCh <- true

	initial := <-configCh

	var fib *server.FibClient
	if opts.RtmPath != "" {
		fib, err = server.NewFibClient(opts.RtmPath)
		if err != nil {
			log.Fatal("can't start the kernel route monitor: ", err)
		}
	}

	bgpServer := server.NewBgpServer(initial.Global.Port, fib)
	go bgpServer.Serve()
	bgpServer.SetGlobalType(initial.Global)

	bgpConfig := &config.Bgp{Global: initial.Global}
	apply := func(newConfig *config.Bgp) {
		var added, deleted []config.Neighbor
		bgpConfig, added, deleted = config.UpdateConfig(bgpConfig, newConfig)
		for _, p := range deleted {
			log.Infof("peer %v is deleted", p.NeighborAddress)
			bgpServer.PeerDelete(p)
		}
		for _, p := range added {
			log.Infof("peer %v is added", p.NeighborAddress)
			bgpServer.PeerAdd(p)
		}
	}
	apply(&initial)

	daemon.SdNotify(false, daemon.SdNotifyReady)

	for {
		select {
		case newConfig := <-configCh:
			apply(&newConfig)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Info("reload the config file")
				reloadCh <- true
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("shutting down")
				bgpServer.Stop()
				os.Exit(0)
			}
		}
	}
}
