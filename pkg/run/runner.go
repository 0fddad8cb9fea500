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
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

//
const runnerHelpEpilogue = `All settings can also be provided via environment
variables with prefix 'SPARCPC_', e.g. SPARCPC_ADDRESS for --address.`

//
const defaultAddress = "localhost:8580"

/*
	Runner is the base of all command line commands: a cobra command plus
	viper-backed settings, with flag, environment variable, and config
	file precedence handled in one place.
*/
type Runner struct {
	cmd *cobra.Command
	vip *viper.Viper
	//
	required []string
	//
	Address  string
	LogLevel string
}

//
func NewRunner(use, short, long, example, epilogue string,
	run func() error) *Runner {

	r := &Runner{vip: viper.New()}

	if epilogue != "" {
		long = fmt.Sprintf("%s\n\n%s", long, epilogue)
	}

	r.cmd = &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		Example:       example,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run()
		},
	}

	r.vip.SetEnvPrefix("sparcpc")
	r.vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	r.vip.AutomaticEnv()

	r.vip.SetConfigName("sparcpc")
	r.vip.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		r.vip.AddConfigPath(filepath.Join(home, ".sparcpc"))
	}

	return r
}

//
func (r *Runner) Cmd() *cobra.Command {
	return r.cmd
}

//
func (r *Runner) AddBaseSettings() {
	r.AddSetting(&r.Address, "address", "a", "", defaultAddress,
		"daemon control API address", false)
	r.AddSetting(&r.LogLevel, "log-level", "l", "", "info",
		"log level (trace, debug, info, warn, error)", false)
}

/*
	AddSetting registers a setting as a command line flag backed by viper.
	target must point at a string, int, or bool. env optionally names an
	extra environment variable to bind beyond the automatic SPARCPC_
	prefixed one.
*/
func (r *Runner) AddSetting(target interface{}, name, short, env string,
	def interface{}, help string, required bool) {

	flags := r.cmd.Flags()

	switch t := target.(type) {

	case *string:
		d, _ := def.(string)
		flags.StringVarP(t, name, short, d, help)

	case *int:
		d, _ := def.(int)
		flags.IntVarP(t, name, short, d, help)

	case *bool:
		d, _ := def.(bool)
		flags.BoolVarP(t, name, short, d, help)

	default:
		panic(fmt.Sprintf("unsupported setting type for '%s'", name))
	}

	r.vip.BindPFlag(name, flags.Lookup(name))
	if env != "" {
		r.vip.BindEnv(name, env)
	}

	if required {
		r.required = append(r.required, name)
	}
}

/*
	ParseSettings resolves all settings from flags and environment, and
	applies the log level. Call this at the start of a command's run
	function.
*/
func (r *Runner) ParseSettings() error {

	if err := r.vip.ReadInConfig(); err == nil {
		log.WithField("file", r.vip.ConfigFileUsed()).Debug("config file read")
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	flags := r.cmd.Flags()

	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && r.vip.IsSet(f.Name) {
			flags.Set(f.Name, r.vip.GetString(f.Name))
		}
	})

	for _, name := range r.required {
		if !flags.Changed(name) && !r.vip.IsSet(name) {
			return fmt.Errorf("required setting '%s' not provided", name)
		}
	}

	if r.LogLevel != "" {
		if lvl, err := log.ParseLevel(r.LogLevel); err == nil {
			log.SetLevel(lvl)
		} else {
			log.Warnf("invalid log level '%s', keeping '%s'",
				r.LogLevel, log.GetLevel())
		}
	}

	return nil
}

//
func (r *Runner) IsSet(name string) bool {
	return r.cmd.Flags().Changed(name) || r.vip.IsSet(name)
}

// apiCall runs a request against the daemon's control API and hands back
// the response body. Non-2xx responses are turned into errors carrying
// the response text.
func (r *Runner) apiCall(
	method, path string, body io.Reader) (io.ReadCloser, error) {

	addr := r.Address
	if addr == "" {
		addr = defaultAddress
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	req, err := http.NewRequest(method, addr+path, body)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: %s",
			resp.Status, strings.TrimSpace(string(msg)))
	}

	return resp.Body, nil
}

// GetUserConfirmation asks the user a yes/no question on the terminal.
func GetUserConfirmation(msg string) bool {

	fmt.Printf("%s [y/N] ", msg)

	in := bufio.NewReader(os.Stdin)
	answer, err := in.ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
