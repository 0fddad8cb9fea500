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

package repo

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

/*
	Resolve turns an image reference into a readable source. A reference
	is either an http(s) URL, an absolute path, or a path relative to the
	repository root. Relative references must not escape the repository.
*/
func Resolve(ref, repository string) (io.ReadCloser, error) {

	log.WithFields(log.Fields{
		"ref": ref, "repository": repository}).Debug("resolving image ref")

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return NewHTTPSource(ref)
	}

	if filepath.IsAbs(ref) {
		return NewFileSource(ref)
	}

	path, err := Localize(ref, repository)
	if err != nil {
		return nil, err
	}
	return NewFileSource(path)
}

/*
	Localize joins a relative image reference with the repository root,
	refusing references that escape it. Every consumer of repo-relative
	references must go through here.
*/
func Localize(ref, repository string) (string, error) {

	if repository == "" {
		return "", fmt.Errorf("no repository configured, cannot resolve '%s'",
			ref)
	}

	path := filepath.Join(repository, ref)
	if rel, err := filepath.Rel(repository, path); err != nil ||
		strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("reference '%s' escapes the repository", ref)
	}
	return path, nil
}
