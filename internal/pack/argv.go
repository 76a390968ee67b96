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
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/provenance"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
)

// RewriteArgv rewrites program and entries against the staging results
// recorded in s, substituting each staged path's $USER_DIR$ form, and
// returns the full rewritten token list (program first).
func RewriteArgv(program string, entries []provenance.ArgvEntry, s *Stager) []string {
	out := make([]string, 0, len(entries)+1)
	out = append(out, rewriteToken(program, RoleProgram, s))

	for _, e := range entries {
		tok := e.Value
		switch {
		case e.InputFile:
			tok = rewriteToken(e.Value, RoleInput, s)
		case e.OutputFile:
			tok = rewriteOutput(e.Value, s)
		case e.Dir:
			tok = rewriteToken(e.Value, RoleDir, s)
		}
		if e.Prefix != nil {
			tok = *e.Prefix + tok
		}
		out = append(out, tok)
	}
	return out
}

// rewriteToken rewrites a staged (or to-be-staged) path to its
// $USER_DIR$-rooted form. A path that was never staged (because it was
// excluded by the user, or did not exist on disk) is still rewritten to
// the mirror location the reproducer is expected to populate.
func rewriteToken(p string, role Role, s *Stager) string {
	if rel, ok := s.StagedRel(p); ok {
		return userDirPath(rel)
	}
	mirrorRel := filepath.Join(reprogoconfig.MirrorDir, strings.TrimPrefix(p, "/"))
	return userDirPath(mirrorRel)
}

// rewriteOutput ensures the parent directory for an output file exists
// under the mirror tree and rewrites the token to that location.
func rewriteOutput(p string, s *Stager) string {
	mirrorRel := filepath.Join(reprogoconfig.MirrorDir, strings.TrimPrefix(p, "/"))
	dst := filepath.Join(s.Config.RepDir, mirrorRel)
	// Best effort: the rewritten token points here regardless of whether
	// the parent directory could be created now; the reproducer sees the
	// same path either way.
	_ = s.FS.MkdirAll(filepath.Dir(dst), 0755)
	return userDirPath(mirrorRel)
}
