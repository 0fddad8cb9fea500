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
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/image"
	"github.com/xelalexv/sparcpc/pkg/repo"
)

/*
	mount loads an image into a drive slot. The image is referenced by the
	'ref' query argument: a repo-relative path, an absolute path, or an
	http(s) URL. Plain local files are mounted in place; compressed or
	remote images are staged into the cache directory first. Note that
	writes to a staged image do not propagate back to its origin.
*/
func (a *APIServer) mount(w http.ResponseWriter, req *http.Request) {

	slot, ok := getSlot(w, req)
	if !ok {
		return
	}

	ref := getArg(req, "ref")
	if ref == "" {
		handleError(fmt.Errorf("no image reference"),
			http.StatusUnprocessableEntity, w)
		return
	}

	path, err := a.stage(ref)
	if handleError(err, http.StatusNotAcceptable, w) {
		return
	}

	if err := a.daemon.MountSlot(slot, path,
		isFlagSet(req, "readonly"), isFlagSet(req, "strict")); err != nil {
		handleError(err, http.StatusUnprocessableEntity, w)
		return
	}

	sendReply([]byte(fmt.Sprintf("mounted '%s' into %s slot", ref, slot)),
		http.StatusOK, w)
}

//
func (a *APIServer) unmount(w http.ResponseWriter, req *http.Request) {

	slot, ok := getSlot(w, req)
	if !ok {
		return
	}

	if err := a.daemon.UnmountSlot(slot); err != nil {
		handleError(err, http.StatusUnprocessableEntity, w)
		return
	}

	sendReply([]byte(fmt.Sprintf("unmounted %s slot", slot)),
		http.StatusOK, w)
}

//
func (a *APIServer) eject(w http.ResponseWriter, req *http.Request) {

	slot, ok := getSlot(w, req)
	if !ok {
		return
	}

	if err := a.daemon.EjectSlot(slot); err != nil {
		handleError(err, http.StatusUnprocessableEntity, w)
		return
	}

	sendReply([]byte(fmt.Sprintf("ejected %s slot", slot)),
		http.StatusOK, w)
}

/*
	stage makes an image reference locally mountable. Local uncompressed
	images resolve to their actual path; everything else is pulled through
	an image reader into the cache directory.
*/
func (a *APIServer) stage(ref string) (string, error) {

	name, _, compressor := image.SplitNameTypeCompressor(ref)

	remote := strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://")

	if !remote && compressor == "" {
		if filepath.IsAbs(ref) {
			return ref, nil
		}
		return repo.Localize(ref, a.repository)
	}

	if a.cache == "" {
		return "", fmt.Errorf(
			"no cache directory configured, cannot stage '%s'", ref)
	}

	src, err := repo.Resolve(ref, a.repository)
	if err != nil {
		return "", err
	}
	defer src.Close()

	rd, err := image.NewReader(src, compressor)
	if err != nil {
		return "", err
	}
	defer rd.Close()

	if rd.Name() != "" {
		name = rd.Name()
	}
	if name == "" {
		name = "image"
	}

	if err := os.MkdirAll(a.cache, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(a.cache, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	n, err := io.Copy(out, rd)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("cannot stage '%s': %w", ref, err)
	}

	log.WithFields(log.Fields{
		"ref": ref, "path": path, "size": n}).Info("image staged")

	return path, nil
}
