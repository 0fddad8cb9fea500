/*
   SparcPC - SunPCi co-processor card bridge
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SparcPC.

   SparcPC is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SparcPC is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SparcPC. If not, see <http://www.gnu.org/licenses/>.
*/

package run

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/control"
	"github.com/xelalexv/sparcpc/pkg/daemon"
	"github.com/xelalexv/sparcpc/pkg/repo"
	"github.com/xelalexv/sparcpc/pkg/storage"
	"github.com/xelalexv/sparcpc/pkg/util"
)

//
func NewServe() *Serve {

	s := &Serve{}
	s.Runner = *NewRunner(
		"serve [-d|--device {device file}] [-a|--address {address}] [-r|--repo {repo dir}]",
		"run the SparcPC daemon",
		`
Use the serve command to run the SparcPC daemon. It attaches to the
co-processor card via its device file, answers the guest's storage and
channel requests, and exposes the control API used by the other commands.
When no device file is given, the daemon runs with an in-memory card
region, which is useful for trying out the control API without hardware.`,
		"", runnerHelpEpilogue, s.Run)

	s.AddBaseSettings()
	s.AddSetting(&s.Device, "device", "d", "", nil,
		"co-processor card device file", false)
	s.AddSetting(&s.Repo, "repo", "r", "", nil,
		"disk image repository directory; enables listing & search", false)
	s.AddSetting(&s.Index, "index", "x", "", nil,
		"search index directory; defaults to '.index' inside the repo", false)
	s.AddSetting(&s.Cache, "cache", "c", "", nil,
		"cache directory for staged images", false)

	return s
}

//
type Serve struct {
	Runner
	//
	Device string
	Repo   string
	Index  string
	Cache  string
}

//
func (s *Serve) Run() error {

	if err := s.ParseSettings(); err != nil {
		return err
	}

	var region daemon.Region
	var err error

	if s.Device != "" {
		if region, err = daemon.OpenFileRegion(s.Device); err != nil {
			return err
		}
		log.WithField("device", s.Device).Info("attached to card")
	} else {
		region = daemon.NewMemRegion()
		log.Warn("no device file given, running with in-memory region")
	}
	defer region.Close()

	engine := storage.NewEngine()
	defer engine.Shutdown()

	d, err := daemon.NewDaemon(region, engine, util.SparcPCVersion)
	if err != nil {
		return err
	}

	var index *repo.Index
	if s.Repo != "" {
		base := s.Index
		if base == "" {
			base = filepath.Join(s.Repo, ".index")
		}
		if index, err = repo.NewIndex(base, s.Repo); err != nil {
			return err
		}
		if err = index.Start(); err != nil {
			return err
		}
		defer index.Stop()
	}

	cache := s.Cache
	if cache == "" {
		cache = filepath.Join(os.TempDir(), "sparcpc")
	}

	api := control.NewAPIServer(s.Address, d, index, s.Repo, cache)

	go d.Serve()
	defer d.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		api.Stop()
	}()

	if err := api.Serve(); err != nil && err != http.ErrServerClosed {
		log.Errorf("control API closed: %v", err)
	}

	return nil
}
