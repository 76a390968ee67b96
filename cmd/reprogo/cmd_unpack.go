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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
	"github.com/anonymouse64/reprogo/internal/unpack"
)

type cmdUnpack struct {
	Exp  string `long:"exp" description:"Path to the reproducer archive to extract" required:"yes"`
	Wdir string `long:"wdir" description:"Destination directory to extract into and rewire" required:"yes"`
}

func (x *cmdUnpack) Execute(args []string) error {
	resetErrors()

	if _, err := os.Stat(x.Wdir); err == nil {
		if !confirmPrompt(fmt.Sprintf("%s already exists, remove it and continue?", x.Wdir)) {
			return &reprogoerrors.UserAborted{Reason: fmt.Sprintf("destination %s already exists", x.Wdir)}
		}
		if err := os.RemoveAll(x.Wdir); err != nil {
			return err
		}
	}

	verbosef("extracting %s into %s", x.Exp, x.Wdir)
	if err := unpack.Extract(x.Exp, x.Wdir); err != nil {
		return err
	}

	verbosef("substituting $USER_DIR$ for %s", x.Wdir)
	dest, err := filepath.Abs(x.Wdir)
	if err != nil {
		return err
	}
	if err := unpack.SubstituteUserDir(x.Wdir, dest); err != nil {
		return err
	}

	verbosef("flattening rz_cp/ into exp/")
	if err := unpack.Flatten(x.Wdir, confirmOverwrite); err != nil {
		return err
	}

	verbosef("recreating symlink chains")
	if err := unpack.RecreateSymlinks(x.Wdir); err != nil {
		return err
	}

	for _, err := range errs {
		logError(err)
	}

	fmt.Printf("unpacked to %s; run %s/rep.exec to replay\n", x.Wdir, x.Wdir)
	return nil
}

// confirmPrompt asks a yes/no question on stdin, defaulting to "no" on
// any input the user doesn't clearly answer "y" to.
func confirmPrompt(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// confirmOverwrite adapts confirmPrompt to unpack.Confirm's signature.
func confirmOverwrite(path string) bool {
	return confirmPrompt(fmt.Sprintf("%s already exists, overwrite it?", path))
}
