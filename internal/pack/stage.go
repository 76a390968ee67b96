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
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
)

// Role names a classified path's place in the five-way partition. Mirrors
// the roles internal/classify derives; pack only needs the label, not the
// classifier's richer per-node structures.
type Role string

const (
	RoleProgram      Role = "program"
	RoleInput        Role = "input"
	RoleOutput       Role = "output"
	RoleDependency   Role = "dependency"
	RoleDir          Role = "dir"
	RoleSymlinkTarget Role = "symlink_target"
)

// Classified is one path the planner was asked to stage, with its role
// and whether the user excluded it at config-review time.
type Classified struct {
	Path     string
	Role     Role
	Excluded bool
}

// StagedFile is one successfully staged path, as recorded into the
// manifest rep.config lists.
type StagedFile struct {
	Original string
	// Rel is the staged location relative to RepDir, e.g.
	// "exp/usr/bin/grep" or "rz_cp/usr@@bin@@grep".
	Rel  string
	Role Role
	Size int64
}

// userDirPath returns p rewritten to be $USER_DIR$-rooted from a
// RepDir-relative staged path.
func userDirPath(rel string) string {
	return reprogoconfig.UserDirPlaceholder + "/" + rel
}

// Stager stages classified paths under cfg.RepDir and builds the manifest
// and the original->staged lookup the argv/env rewriters need.
type Stager struct {
	Config *reprogoconfig.Config
	FS     FS

	// SymlinkTargets maps a staged path to the real filesystem path its
	// symlink chain resolves to, so staging can recurse onto it.
	SymlinkTargets map[string]string

	Manifest []StagedFile
	// staged maps an original absolute path to its RepDir-relative
	// location, once staged.
	staged map[string]string
}

// NewStager returns a Stager backed by fs (pass pack.RealFS{} in
// production).
func NewStager(cfg *reprogoconfig.Config, fs FS, symlinkTargets map[string]string) *Stager {
	return &Stager{
		Config:         cfg,
		FS:             fs,
		SymlinkTargets: symlinkTargets,
		staged:         make(map[string]string),
	}
}

// StagedRel returns the RepDir-relative path p was staged to, if any.
func (s *Stager) StagedRel(p string) (string, bool) {
	rel, ok := s.staged[p]
	return rel, ok
}

// Stage stages every entry in entries, skipping any path that does not
// exist on disk. Per-file errors are logged and that file is skipped; the
// rest of the plan proceeds.
func (s *Stager) Stage(entries []Classified) {
	for _, c := range entries {
		if c.Excluded {
			continue
		}
		s.stageOne(c.Path, c.Role)
	}
}

func (s *Stager) stageOne(p string, role Role) {
	if _, already := s.staged[p]; already {
		return
	}
	info, err := s.FS.Stat(p)
	if err != nil {
		// Does not exist on disk: skip silently.
		return
	}

	rel := s.destinationFor(p)
	dst := filepath.Join(s.Config.RepDir, rel)

	if info.IsDir() {
		if err := s.FS.MkdirAll(dst, info.Mode().Perm()); err != nil {
			log.Printf("staging %q: %v", p, &reprogoerrors.StagingIOError{Path: p, Err: err})
			return
		}
	} else {
		if err := s.FS.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			log.Printf("staging %q: %v", p, &reprogoerrors.StagingIOError{Path: p, Err: err})
			return
		}
		mode, err := s.FS.CopyFile(p, dst)
		if err != nil {
			log.Printf("staging %q: %v", p, &reprogoerrors.StagingIOError{Path: p, Err: err})
			return
		}
		if role == RoleProgram {
			if err := s.FS.Chmod(dst, mode|0777); err != nil {
				log.Printf("marking %q executable: %v", dst, err)
			}
		}
	}

	s.staged[p] = rel
	s.Manifest = append(s.Manifest, StagedFile{Original: p, Rel: rel, Role: role, Size: sizeOf(info)})

	if target, ok := s.SymlinkTargets[p]; ok && target != p {
		s.stageOne(target, role)
	}
}

func sizeOf(info os.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

// destinationFor decides mirror vs flat namespace for p and returns the
// RepDir-relative destination.
func (s *Stager) destinationFor(p string) string {
	mirrorRel := filepath.Join(reprogoconfig.MirrorDir, strings.TrimPrefix(p, "/"))

	// A conflict: p itself already falls under RepDir (e.g. restaging a
	// previously unpacked tree). Mirroring it would recreate a path that
	// collides with the package root, so flatten it instead.
	if strings.HasPrefix(filepath.Clean(p), filepath.Clean(s.Config.RepDir)+string(filepath.Separator)) {
		return filepath.Join(reprogoconfig.FlatDir, flattenPath(p))
	}
	return mirrorRel
}

// flattenPath replaces every path separator in p with the reserved flat
// separator token.
func flattenPath(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	return strings.ReplaceAll(trimmed, "/", reprogoconfig.FlatSeparator)
}
