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

// Package pack stages classified paths into a package root, rewrites argv
// and environment to reference the staged copies, and emits the launch
// script and side files a reproducer needs.
package pack

import (
	"io"
	"os"
	"path/filepath"
)

// FS abstracts the filesystem operations staging needs, so tests can
// stage against an in-memory fake instead of touching disk.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	CopyFile(src, dst string) (os.FileMode, error)
	Chmod(path string, perm os.FileMode) error
}

// RealFS backs FS with the real filesystem.
type RealFS struct{}

func (RealFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (RealFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFS) CopyFile(src, dst string) (os.FileMode, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return 0, err
	}
	return info.Mode().Perm(), nil
}

func (RealFS) Chmod(path string, perm os.FileMode) error { return os.Chmod(path, perm) }
