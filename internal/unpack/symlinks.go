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

package unpack

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// chainElem is one hop of a persisted chain: either a real path, or a
// "None" marker separating distinct directory-symlink rebasings.
type chainElem struct {
	Path   string
	Marker bool
}

func (c *chainElem) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "None" {
		c.Marker = true
		return nil
	}
	c.Path = s
	return nil
}

type symlinksFile struct {
	SymlinkChain map[string][]chainElem `yaml:"symlink_chain"`
	SymlinkDir   map[string][]chainElem `yaml:"symlink_dir"`
}

// symlinkHop is one link->target pair to recreate with os.Symlink.
type symlinkHop struct {
	Link   string
	Target string
}

// readSymlinksFile parses root/.symlinks, already substituted to real
// destination paths by SubstituteUserDir.
func readSymlinksFile(root string) (symlinksFile, error) {
	data, err := os.ReadFile(filepath.Join(root, ".symlinks"))
	if os.IsNotExist(err) {
		return symlinksFile{}, nil
	}
	if err != nil {
		return symlinksFile{}, err
	}
	var doc symlinksFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return symlinksFile{}, err
	}
	return doc, nil
}

// dirHops extracts the ordered (link, target) pairs from a dir_chain,
// ignoring the markers that only separate distinct pairs.
func dirHops(chain []chainElem) []symlinkHop {
	var hops []symlinkHop
	var pending []string
	for _, e := range chain {
		if e.Marker {
			continue
		}
		pending = append(pending, e.Path)
		if len(pending) == 2 {
			hops = append(hops, symlinkHop{Link: pending[0], Target: pending[1]})
			pending = nil
		}
	}
	return hops
}

// fileHops extracts the ordered (link, target) pairs from a symlink_chain
// that represent genuine file-level symlink hops: consecutive path
// entries within the same marker-delimited segment. A hop that crosses a
// marker boundary was a directory-symlink rebasing, already recreated by
// dirHops, and is not a file symlink in its own right.
func fileHops(chain []chainElem) []symlinkHop {
	var hops []symlinkHop
	var segment []string
	flush := func() {
		for i := 0; i+1 < len(segment); i++ {
			hops = append(hops, symlinkHop{Link: segment[i], Target: segment[i+1]})
		}
		segment = nil
	}
	for _, e := range chain {
		if e.Marker {
			flush()
			continue
		}
		segment = append(segment, e.Path)
	}
	flush()
	return hops
}

// RecreateSymlinks reads root/.symlinks and recreates every directory
// symlink, then every file symlink, each in reverse chain order (target
// first).
func RecreateSymlinks(root string) error {
	doc, err := readSymlinksFile(root)
	if err != nil {
		return err
	}

	var dirHopList []symlinkHop
	for _, chain := range doc.SymlinkDir {
		dirHopList = append(dirHopList, dirHops(chain)...)
	}
	for i := len(dirHopList) - 1; i >= 0; i-- {
		if err := createSymlinkIfAbsent(dirHopList[i]); err != nil {
			return err
		}
	}

	var fileHopList []symlinkHop
	for _, chain := range doc.SymlinkChain {
		fileHopList = append(fileHopList, fileHops(chain)...)
	}
	for i := len(fileHopList) - 1; i >= 0; i-- {
		if err := createSymlinkIfAbsent(fileHopList[i]); err != nil {
			return err
		}
	}
	return nil
}

func createSymlinkIfAbsent(hop symlinkHop) error {
	if hop.Link == hop.Target {
		return nil
	}
	if _, err := os.Lstat(hop.Link); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(hop.Link), 0755); err != nil {
		return err
	}
	return os.Symlink(hop.Target, hop.Link)
}
