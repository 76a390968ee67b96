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

package symlink

import "fmt"

func errDivergence(path, real string) error {
	return fmt.Errorf("%q diverges from realpath %q with no directory symlink accounting for it", path, real)
}

func errTooManyHops(head string) error {
	return fmt.Errorf("chain for %q did not converge within the hop limit", head)
}
