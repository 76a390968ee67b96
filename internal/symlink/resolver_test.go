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

package symlink_test

import (
	"testing"

	"github.com/anonymouse64/reprogo/internal/symlink"
)

// fakeFS models /lib -> /usr/lib as the only symlink on disk, matching
// scenario S4: the kernel resolves an open on /lib/libc.so.6 down to
// /usr/lib/libc.so.6.
func fakeFS() symlink.Resolver {
	return symlink.Resolver{
		IsSymlink: func(path string) bool { return path == "/lib" },
		Readlink: func(path string) (string, error) {
			if path == "/lib" {
				return "/usr/lib", nil
			}
			return "", nil
		},
		Realpath: func(path string) (string, error) {
			if path == "/lib/libc.so.6" {
				return "/usr/lib/libc.so.6", nil
			}
			return path, nil
		},
	}
}

func TestS4DirectorySymlinkInPath(t *testing.T) {
	plan := symlink.Resolve(map[string]string{
		"/lib/libc.so.6": "/usr/lib/libc.so.6",
	}, fakeFS())

	chain, ok := plan.Chain["/lib/libc.so.6"]
	if !ok {
		t.Fatalf("expected a surviving chain for /lib/libc.so.6, got %+v", plan.Chain)
	}
	want := []symlink.ChainElem{
		{Path: "/lib/libc.so.6"},
		{Marker: true},
		{Path: "/usr/lib/libc.so.6"},
	}
	if len(chain) != len(want) {
		t.Fatalf("chain = %+v, want %+v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain[%d] = %+v, want %+v", i, chain[i], want[i])
		}
	}

	dirChain, ok := plan.Dir["/lib/libc.so.6"]
	if !ok {
		t.Fatalf("expected a dir chain for /lib/libc.so.6, got %+v", plan.Dir)
	}
	wantDir := []symlink.ChainElem{{Path: "/lib"}, {Path: "/usr/lib"}}
	if len(dirChain) != len(wantDir) {
		t.Fatalf("dirChain = %+v, want %+v", dirChain, wantDir)
	}
	for i := range wantDir {
		if dirChain[i] != wantDir[i] {
			t.Fatalf("dirChain[%d] = %+v, want %+v", i, dirChain[i], wantDir[i])
		}
	}
}

func TestResolveDropsShortChains(t *testing.T) {
	// A direct link -> target (realpath differs, but path itself is the
	// symlink) produces a 2-element chain: already captured by
	// symlink_to_target, so it should not survive.
	r := symlink.Resolver{
		IsSymlink: func(path string) bool { return path == "/a" },
		Readlink: func(path string) (string, error) { return "/b", nil },
		Realpath: func(path string) (string, error) {
			if path == "/a" {
				return "/b", nil
			}
			return path, nil
		},
	}
	plan := symlink.Resolve(map[string]string{"/a": "/b"}, r)
	if _, ok := plan.Chain["/a"]; ok {
		t.Fatalf("expected short direct chain to be dropped, got %+v", plan.Chain)
	}
}
