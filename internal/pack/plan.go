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
	"github.com/anonymouse64/reprogo/internal/classify"
	"github.com/anonymouse64/reprogo/internal/provenance"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/symlink"
)

// Plan is the fully assembled package: everything Build staged plus the
// rewritten argv and environment ready for the launch script.
type Plan struct {
	Manifest     []StagedFile
	Argv         []string
	Env          map[string]string
	SymlinkPlan  symlink.Plan
	ConfigFiles  []string
}

// Options configures Build beyond what classify.Result and the
// provenance tree already carry.
type Options struct {
	LdconfigLister LdconfigLister
	PythonPath     []string
	// ConfigFiles are paths the caller has designated as configuration
	// files subject to $USER_DIR$ substitution at unpack time.
	ConfigFiles []string
	// Excluded are paths the user removed from the package via a
	// previously reviewed rep.config.
	Excluded map[string]bool
}

// Build stages every classified path from res, rewrites root's argv and
// env against the staged tree, and resolves root's symlink_to_target
// mapping into a chain plan. It returns the assembled Plan; callers then
// call WriteLaunchScript, WriteSymlinksFile, WriteConfigFilesList and
// WriteRepConfig to persist it.
func Build(cfg *reprogoconfig.Config, root *provenance.Node, res classify.Result, fs FS, symResolver symlink.Resolver, opts Options) (*Plan, error) {
	stager := NewStager(cfg, fs, res.SymlinkTargets)

	var entries []Classified
	entries = append(entries, Classified{Path: res.MainProgram, Role: RoleProgram, Excluded: opts.Excluded[res.MainProgram]})
	for p := range res.ChildPrograms {
		entries = append(entries, Classified{Path: p, Role: RoleProgram, Excluded: opts.Excluded[p]})
	}
	for p := range res.MainInputFiles {
		entries = append(entries, Classified{Path: p, Role: RoleInput, Excluded: opts.Excluded[p]})
	}
	for p := range res.ChildInputFiles {
		entries = append(entries, Classified{Path: p, Role: RoleInput, Excluded: opts.Excluded[p]})
	}
	for p := range res.DependenciesRoot {
		entries = append(entries, Classified{Path: p, Role: RoleDependency, Excluded: opts.Excluded[p]})
	}
	for p := range res.Dirs {
		entries = append(entries, Classified{Path: p, Role: RoleDir, Excluded: opts.Excluded[p]})
	}

	stager.Stage(entries)

	symPlan := symlink.Resolve(res.SymlinkTargets, symResolver)

	programs := append([]string{res.MainProgram}, keysOf(res.ChildPrograms)...)
	argv := RewriteArgv(res.MainProgram, root.ArgvDict, stager)
	env := RewriteEnv(root.Env, cfg, stager, programs, opts.LdconfigLister, opts.PythonPath)

	return &Plan{
		Manifest:    stager.Manifest,
		Argv:        argv,
		Env:         env,
		SymlinkPlan: symPlan,
		ConfigFiles: opts.ConfigFiles,
	}, nil
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
