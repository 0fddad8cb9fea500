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
	"fmt"
	"io"
	"os"
)

//
func NewStatus() *Status {

	s := &Status{}
	s.Runner = *NewRunner(
		"status [-a|--address {address}]",
		"show the state of all drive slots",
		`
Use the status command to show all drive slots of the guest, mounted or not.`,
		"", runnerHelpEpilogue, s.Run)

	s.AddBaseSettings()

	return s
}

//
type Status struct {
	Runner
}

//
func (s *Status) Run() error {
	if err := s.ParseSettings(); err != nil {
		return err
	}
	return s.dump("/status")
}

//
func NewLs() *Ls {

	l := &Ls{}
	l.Runner = *NewRunner(
		"ls [-a|--address {address}]",
		"list mounted disk images",
		`
Use the ls command to list the images currently mounted in the guest's
drive slots.`,
		"", runnerHelpEpilogue, l.Run)

	l.AddBaseSettings()

	return l
}

//
type Ls struct {
	Runner
}

//
func (l *Ls) Run() error {
	if err := l.ParseSettings(); err != nil {
		return err
	}
	return l.dump("/ls")
}

//
func (r *Runner) dump(path string) error {

	resp, err := r.apiCall("GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Close()

	fmt.Println()
	_, err = io.Copy(os.Stdout, resp)
	return err
}
