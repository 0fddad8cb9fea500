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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xelalexv/sparcpc/pkg/run"
)

//
func main() {

	root := &cobra.Command{
		Use:           "sparcpc",
		Short:         "SunPCi co-processor card bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		run.NewServe().Cmd(),
		run.NewMount().Cmd(),
		run.NewUnmount().Cmd(),
		run.NewEject().Cmd(),
		run.NewStatus().Cmd(),
		run.NewLs().Cmd(),
		run.NewSearch().Cmd(),
		run.NewVersion().Cmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\nERROR: %v\n\n", err)
		os.Exit(1)
	}
}
