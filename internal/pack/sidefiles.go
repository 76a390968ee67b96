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

	"github.com/snapcore/snapd/gadget/quantity"
	"gopkg.in/yaml.v2"

	"github.com/anonymouse64/reprogo/internal/files"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/symlink"
)

// symlinksFile is the YAML shape persisted at $REP_DIR$/.symlinks.
type symlinksFile struct {
	SymlinkChain map[string][]chainElemYAML `yaml:"symlink_chain"`
	SymlinkDir   map[string][]chainElemYAML `yaml:"symlink_dir"`
}

// chainElemYAML mirrors symlink.ChainElem for serialisation: a marker
// entry is written as the literal string "None", matching the data
// model's own vocabulary for the separator.
type chainElemYAML struct {
	Path   string `yaml:"path,omitempty"`
	Marker bool   `yaml:"-"`
}

func (c chainElemYAML) MarshalYAML() (interface{}, error) {
	if c.Marker {
		return "None", nil
	}
	return c.Path, nil
}

// toYAMLChain rewrites every hop of chain to its $USER_DIR$-rooted
// mirror location, e.g. /usr/lib becomes $USER_DIR$/exp/usr/lib.
func toYAMLChain(chain []symlink.ChainElem) []chainElemYAML {
	out := make([]chainElemYAML, len(chain))
	for i, e := range chain {
		if e.Marker {
			out[i] = chainElemYAML{Marker: true}
			continue
		}
		out[i] = chainElemYAML{Path: userDirPath(filepath.Join(reprogoconfig.MirrorDir, strings.TrimPrefix(e.Path, "/")))}
	}
	return out
}

// WriteSymlinksFile persists plan, with every hop rewritten to its
// $USER_DIR$-rooted mirror location, to $REP_DIR$/.symlinks.
func WriteSymlinksFile(cfg *reprogoconfig.Config, plan symlink.Plan) error {
	out := symlinksFile{
		SymlinkChain: make(map[string][]chainElemYAML, len(plan.Chain)),
		SymlinkDir:   make(map[string][]chainElemYAML, len(plan.Dir)),
	}
	for head, chain := range plan.Chain {
		out.SymlinkChain[head] = toYAMLChain(chain)
	}
	for head, chain := range plan.Dir {
		out.SymlinkDir[head] = toYAMLChain(chain)
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(cfg.RepDir, ".symlinks"), data)
}

// WriteConfigFilesList persists the user-designated configuration file
// paths (subject to $USER_DIR$ substitution at unpack time) to
// $REP_DIR$/.config_files.
func WriteConfigFilesList(cfg *reprogoconfig.Config, paths []string) error {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	return writeFile(filepath.Join(cfg.RepDir, ".config_files"), []byte(strings.Join(sorted, "\n")+"\n"))
}

// repConfigEntry is one row of the human-editable rep.config manifest.
// Rel is the archive-relative staged location (what pack --generate keys
// exclusion against); Path is the original, pre-staging path shown to the
// user for review.
type repConfigEntry struct {
	Path    string `yaml:"path"`
	Rel     string `yaml:"staged_as"`
	Role    string `yaml:"role"`
	Size    string `yaml:"size"`
	Include bool   `yaml:"include"`
}

// repConfig is the top-level rep.config document.
type repConfig struct {
	Files   []repConfigEntry `yaml:"files"`
	Exclude []string         `yaml:"exclude"`
}

// WriteRepConfig emits the human-editable rep.config listing every
// staged file with its size and an include Y/N toggle, plus an exclude
// section of shell-style patterns the user can populate by hand.
func WriteRepConfig(cfg *reprogoconfig.Config, manifest []StagedFile) error {
	doc := repConfig{Exclude: []string{}}
	for _, f := range manifest {
		doc.Files = append(doc.Files, repConfigEntry{
			Path:    f.Original,
			Rel:     f.Rel,
			Role:    string(f.Role),
			Size:    quantity.Size(f.Size).IECString(),
			Include: true,
		})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	header := "# Review the files below. Set include: false to drop a file from\n" +
		"# the package, or add shell-style glob patterns under exclude: to\n" +
		"# drop whole groups of paths.\n"
	return writeFile(filepath.Join(cfg.RepDir, "rep.config"), append([]byte(header), data...))
}

func writeFile(path string, data []byte) error {
	f, err := files.EnsureExistsAndOpen(path, true)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// RepConfigReview is the caller-facing result of parsing a reviewed
// rep.config: which original paths the user excluded (keyed the way
// Options.Excluded expects, for re-planning) and which staged locations
// the user excluded (keyed by archive-relative path, for pack
// --generate, which archives what is already on disk without re-running
// Build).
type RepConfigReview struct {
	ExcludedByPath map[string]bool
	ExcludedByRel  map[string]bool
}

// ReadRepConfig parses a rep.config document, applying the user's
// include/exclude edits. Entries set to include: false, or matching an
// exclude pattern, come back excluded in both maps.
func ReadRepConfig(path string) (RepConfigReview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RepConfigReview{}, err
	}
	var doc repConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RepConfigReview{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	review := RepConfigReview{
		ExcludedByPath: make(map[string]bool, len(doc.Files)),
		ExcludedByRel:  make(map[string]bool, len(doc.Files)),
	}
	for _, f := range doc.Files {
		excluded := !f.Include
		for _, pattern := range doc.Exclude {
			if ok, _ := filepath.Match(pattern, f.Path); ok {
				excluded = true
			}
		}
		if excluded {
			review.ExcludedByPath[f.Path] = true
			review.ExcludedByRel[f.Rel] = true
		}
	}
	return review, nil
}
