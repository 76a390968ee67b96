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
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
)

// Confirm asks the caller (normally the CLI, wired to stdin) whether to
// overwrite an existing path. Production code passes a prompt backed by
// os.Stdin; tests fake it.
type Confirm func(path string) bool

// Flatten decodes every entry under root/rz_cp back into its original
// slash-form and copies it into root/exp, creating parent directories as
// needed and preserving mode bits. A name collision with an existing
// destination file calls confirm; declining skips that entry.
func Flatten(root string, confirm Confirm) error {
	flatDir := filepath.Join(root, reprogoconfig.FlatDir)
	entries, err := os.ReadDir(flatDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		original := unflattenPath(entry.Name())
		dest := filepath.Join(root, reprogoconfig.MirrorDir, original)

		if _, err := os.Stat(dest); err == nil {
			if confirm != nil && !confirm(dest) {
				log.Printf("skipping %s: user declined overwrite", dest)
				continue
			}
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("flattening %s: %w", entry.Name(), err)
		}
		if err := copyPreservingMode(filepath.Join(flatDir, entry.Name()), dest); err != nil {
			return fmt.Errorf("flattening %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// unflattenPath reverses the pack-time flat-encoding of a path: every
// occurrence of the reserved separator token becomes a path separator.
func unflattenPath(flat string) string {
	return strings.ReplaceAll(flat, reprogoconfig.FlatSeparator, "/")
}

func copyPreservingMode(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
