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

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
)

// LdconfigLister returns every directory the system dynamic-linker cache
// currently lists (the output of running the platform's ldconfig-style
// listing command). Production code backs this with a subprocess call;
// tests fake it.
type LdconfigLister func() []string

// RewriteEnv rewrites the captured environment for the staged package:
// drop denylisted variables, translate any `:`-separated element that
// resolves to a staged directory into its $USER_DIR$ form, seed
// LD_LIBRARY_PATH from ldconfig, and seed PYTHONPATH when a Python
// interpreter is involved.
func RewriteEnv(env map[string]string, cfg *reprogoconfig.Config, s *Stager, programs []string, ldconfig LdconfigLister, pythonPath []string) map[string]string {
	names := cfg.EnvDenylist
	if names == nil {
		names = reprogoconfig.DefaultEnvDenylist
	}
	denylist := make(map[string]bool, len(names))
	for _, k := range names {
		denylist[k] = true
	}

	out := make(map[string]string)
	for k, v := range env {
		if denylist[k] {
			continue
		}
		if rewritten, ok := rewritePathList(v, s); ok {
			out[k] = rewritten
		} else {
			out[k] = v
		}
	}

	if ldconfig != nil {
		seeded := seedFromDirs(ldconfig(), s)
		if seeded != "" {
			out["LD_LIBRARY_PATH"] = mergeColonLists(out["LD_LIBRARY_PATH"], seeded)
		}
	}

	if isPython(programs) && len(pythonPath) > 0 {
		seeded := seedFromDirs(pythonPath, s)
		if seeded != "" {
			out["PYTHONPATH"] = mergeColonLists(out["PYTHONPATH"], seeded)
		}
	}

	return out
}

// rewritePathList splits v on ":" and keeps only elements that are bare
// identifiers (no "/") or that name an existing directory under the
// staged root, translating staged directories to their $USER_DIR$ form.
func rewritePathList(v string, s *Stager) (string, bool) {
	if v == "" {
		return "", false
	}
	parts := strings.Split(v, ":")
	var kept []string
	changed := false
	for _, p := range parts {
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			kept = append(kept, p)
			continue
		}
		if rel, ok := s.StagedRel(p); ok {
			kept = append(kept, userDirPath(rel))
			changed = true
			continue
		}
		// Neither a bare identifier nor a staged directory: drop it.
		changed = true
	}
	if !changed {
		return v, false
	}
	return strings.Join(kept, ":"), true
}

func seedFromDirs(dirs []string, s *Stager) string {
	var kept []string
	for _, d := range dirs {
		if rel, ok := s.StagedRel(filepath.Clean(d)); ok {
			kept = append(kept, userDirPath(rel))
		}
	}
	return strings.Join(kept, ":")
}

func mergeColonLists(existing, addition string) string {
	if existing == "" {
		return addition
	}
	if addition == "" {
		return existing
	}
	return existing + ":" + addition
}

func isPython(programs []string) bool {
	for _, p := range programs {
		if strings.Contains(p, "python") {
			return true
		}
	}
	return false
}
