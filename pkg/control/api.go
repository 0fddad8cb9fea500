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

package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/daemon"
	"github.com/xelalexv/sparcpc/pkg/repo"
	"github.com/xelalexv/sparcpc/pkg/storage"
)

/*
	NewAPIServer creates the control API server. It is the host-side
	management surface of the bridge: mounting and unmounting images,
	status, version, and repo search. index may be nil when the repo
	search feature is off.
*/
func NewAPIServer(addr string, d *daemon.Daemon, index *repo.Index,
	repository, cache string) *APIServer {

	return &APIServer{
		addr:       addr,
		daemon:     d,
		index:      index,
		repository: repository,
		cache:      cache,
	}
}

//
type APIServer struct {
	addr       string
	daemon     *daemon.Daemon
	index      *repo.Index
	repository string
	cache      string
	//
	server *http.Server
}

//
func (a *APIServer) Serve() error {

	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/status", a.status).Methods("GET")
	router.HandleFunc("/version", a.version).Methods("GET")
	router.HandleFunc("/ls", a.list).Methods("GET")
	router.HandleFunc("/search", a.search).Methods("GET")
	router.HandleFunc("/drive/{media}/{index}", a.mount).Methods("PUT")
	router.HandleFunc("/drive/{media}/{index}", a.unmount).Methods("DELETE")
	router.HandleFunc("/drive/{media}/{index}/eject", a.eject).Methods("PUT")

	a.server = &http.Server{Addr: a.addr, Handler: router}

	log.WithField("address", a.addr).Info("control API listening")
	return a.server.ListenAndServe()
}

//
func (a *APIServer) Stop() error {
	if a.server != nil {
		return a.server.Close()
	}
	return nil
}

// getSlot parses the {media}/{index} path variables into a drive slot.
func getSlot(w http.ResponseWriter, req *http.Request) (storage.Slot, bool) {

	vars := mux.Vars(req)
	ret := storage.Slot{}

	switch strings.ToLower(vars["media"]) {
	case "hd", "disk":
		ret.Media = storage.MediaHardDisk
	case "floppy":
		ret.Media = storage.MediaFloppy
	case "cdrom", "cd":
		ret.Media = storage.MediaCDROM
	default:
		handleError(fmt.Errorf("unknown media type '%s'", vars["media"]),
			http.StatusUnprocessableEntity, w)
		return ret, false
	}

	ix, err := strconv.Atoi(vars["index"])
	if err != nil || ix < 0 {
		handleError(fmt.Errorf("invalid slot index '%s'", vars["index"]),
			http.StatusUnprocessableEntity, w)
		return ret, false
	}
	ret.Index = ix

	return ret, true
}

//
func getArg(req *http.Request, arg string) string {
	if args, ok := req.URL.Query()[arg]; ok && len(args) > 0 {
		return args[0]
	}
	return ""
}

//
func getIntArg(req *http.Request, arg string, def int) (int, error) {
	str := getArg(req, arg)
	if str == "" {
		return def, nil
	}
	ret, err := strconv.Atoi(str)
	if err != nil {
		return def, fmt.Errorf("invalid value for '%s': %s", arg, str)
	}
	return ret, nil
}

//
func isFlagSet(req *http.Request, flag string) bool {
	switch strings.ToLower(getArg(req, flag)) {
	case "true", "yes", "1", "on":
		return true
	}
	return false
}

//
func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

//
func sendReply(body []byte, statusCode int, w http.ResponseWriter) {
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Errorf("problem sending reply: %v", err)
	}
	w.Write([]byte("\n"))
}

//
func sendJSONReply(obj interface{}, statusCode int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("problem sending JSON reply: %v", err)
	}
}

// handleError sends err as reply when it is non-nil, and reports whether
// it did so.
func handleError(err error, statusCode int, w http.ResponseWriter) bool {
	if err != nil {
		sendReply([]byte(fmt.Sprintf("error: %v", err)), statusCode, w)
		return true
	}
	return false
}
