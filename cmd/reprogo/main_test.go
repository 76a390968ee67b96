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

package main

import (
	"fmt"
	"testing"

	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
)

func TestExitCodeForUserAbortedIsZero(t *testing.T) {
	err := &reprogoerrors.UserAborted{Reason: "declined overwrite"}
	if got := exitCodeFor(err); got != 0 {
		t.Fatalf("exitCodeFor(UserAborted) = %d, want 0", got)
	}
}

func TestExitCodeForOtherErrorsIsOne(t *testing.T) {
	err := fmt.Errorf("boom")
	if got := exitCodeFor(err); got != 1 {
		t.Fatalf("exitCodeFor(generic) = %d, want 1", got)
	}
}

func TestLdconfigListerParsesCacheLines(t *testing.T) {
	orig := runCombinedOutput
	defer func() { runCombinedOutput = orig }()
	runCombinedOutput = func(prog string, args ...string) ([]byte, error) {
		return []byte(
			"1234 libs found in cache `/etc/ld.so.cache'\n" +
				"\tlibc.so.6 (libc6,x86-64) => /lib/x86_64-linux-gnu/libc.so.6\n" +
				"\tlibm.so.6 (libc6,x86-64) => /lib/x86_64-linux-gnu/libm.so.6\n"), nil
	}

	dirs := ldconfigLister()
	if len(dirs) != 1 || dirs[0] != "/lib/x86_64-linux-gnu" {
		t.Fatalf("ldconfigLister() = %v, want [/lib/x86_64-linux-gnu]", dirs)
	}
}
