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

// Package unpack extracts a package archive into a chosen destination,
// substitutes $USER_DIR$ for that destination across every text artefact
// that carries it, flattens the rz_cp/ namespace, and recreates the
// symlink chains the resolver recorded at pack time.
package unpack

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
)

// Extract validates and extracts the tar.gz archive at archivePath into
// dest, which must not already exist (callers prompt for removal before
// calling Extract; see cmd/reprogo).
//
// The archive format itself — a gzipped tar, rather than some richer
// container — is the one place this package falls back to the standard
// library: no third-party archiver appears anywhere in the example pack,
// and the producer, pack.WriteArchive, writes the same format with the
// same two packages.
func Extract(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return &reprogoerrors.ArchiveError{Path: archivePath, Err: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return &reprogoerrors.ArchiveError{Path: archivePath, Err: err}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &reprogoerrors.ArchiveError{Path: archivePath, Err: err}
		}

		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(filepath.Separator)) {
			return &reprogoerrors.ArchiveError{Path: hdr.Name, Err: errPathEscapesDest(hdr.Name)}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return &reprogoerrors.ArchiveError{Path: hdr.Name, Err: err}
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return &reprogoerrors.ArchiveError{Path: hdr.Name, Err: err}
			}
		default:
			// Symlinks are recreated from the resolver's chain manifest,
			// not from the archive, so any symlink entries in the tar
			// stream are skipped here.
		}
	}
	return nil
}

func extractFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

// SubstituteUserDir rewrites $USER_DIR$ to dest (an absolute path) in
// rep.exec, .symlinks, everything under vistrails/ (including
// vistrails/cltools/), and every path listed in .config_files.
func SubstituteUserDir(root, dest string) error {
	targets, err := substitutionTargets(root)
	if err != nil {
		return err
	}
	for _, path := range targets {
		if err := substituteInFile(path, dest); err != nil {
			return err
		}
	}
	return os.Chmod(filepath.Join(root, "rep.exec"), 0755)
}

func substitutionTargets(root string) ([]string, error) {
	var targets []string

	repExec := filepath.Join(root, "rep.exec")
	if _, err := os.Stat(repExec); err == nil {
		targets = append(targets, repExec)
	}

	symlinks := filepath.Join(root, ".symlinks")
	if _, err := os.Stat(symlinks); err == nil {
		targets = append(targets, symlinks)
	}

	vistrailsDir := filepath.Join(root, "vistrails")
	if info, err := os.Stat(vistrailsDir); err == nil && info.IsDir() {
		err := filepath.Walk(vistrailsDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				targets = append(targets, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	configFiles := filepath.Join(root, ".config_files")
	if data, err := os.ReadFile(configFiles); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			targets = append(targets, filepath.Join(root, line))
		}
	}

	return targets, nil
}

func substituteInFile(path, dest string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rewritten := strings.ReplaceAll(string(data), reprogoconfig.UserDirPlaceholder, dest)
	if rewritten == string(data) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(rewritten), info.Mode().Perm())
}
