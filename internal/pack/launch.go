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

package pack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anonymouse64/reprogo/internal/files"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
)

// LaunchScript renders the $REP_DIR$/rep.exec shell script: pushd into
// the original working directory, export every surviving env var in a
// subshell, run the rewritten argv, popd.
func LaunchScript(pwd string, env map[string]string, argv []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "pushd %s > /dev/null\n", shellQuote(pwd))
	b.WriteString("(\n")
	for _, k := range sortedKeys(env) {
		fmt.Fprintf(&b, "  export %s=%s\n", k, shellQuote(env[k]))
	}
	b.WriteString("  exec " + joinQuoted(argv) + "\n")
	b.WriteString(")\n")
	b.WriteString("popd > /dev/null\n")
	return b.String()
}

// WriteLaunchScript renders and writes rep.exec under cfg.RepDir,
// marking it executable.
func WriteLaunchScript(cfg *reprogoconfig.Config, pwd string, env map[string]string, argv []string) error {
	path := filepath.Join(cfg.RepDir, "rep.exec")
	f, err := files.EnsureExistsAndOpen(path, true)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(LaunchScript(pwd, env, argv)); err != nil {
		return err
	}
	return os.Chmod(path, 0755)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func joinQuoted(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
