/*
 * Copyright (C) 2024 The reprogo authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"errors"
	"log"
	"os"
	"os/exec"

	flags "github.com/jessevdk/go-flags"

	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
)

// runCombinedOutput is a seam over exec.Command(...).CombinedOutput()
// so tests can stub out ldconfig.
var runCombinedOutput = func(prog string, args ...string) ([]byte, error) {
	return exec.Command(prog, args...).CombinedOutput()
}

// Command is the top-level command for the reprogo CLI.
type Command struct {
	Pack       cmdPack   `command:"pack" description:"Trace a command and assemble a reproducer package"`
	Unpack     cmdUnpack `command:"unpack" description:"Extract a reproducer package and rewire it for this host"`
	ShowErrors bool      `short:"e" long:"errors" description:"Show warnings as they happen instead of only counting them"`
	Verbose    bool      `short:"v" long:"verbose" description:"Print progress as each stage runs"`
}

var currentCmd Command
var parser = flags.NewParser(&currentCmd, flags.Default)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if _, err := parser.Parse(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error from the command layer to a process exit
// code: 0 for a user-cancelled overwrite, 1 for everything else, including
// the usage errors go-flags returns from Parse.
func exitCodeFor(err error) int {
	var aborted *reprogoerrors.UserAborted
	if errors.As(err, &aborted) {
		return 0
	}
	return 1
}

var errs []error

func resetErrors() {
	errs = nil
}

func logError(err error) {
	errs = append(errs, err)
	if currentCmd.ShowErrors {
		log.Println(err)
	}
}

func verbosef(format string, args ...interface{}) {
	if currentCmd.Verbose {
		log.Printf(format, args...)
	}
}
