// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vsm

import "sort"

// sortFreeRanges orders free ranges by offset so adjacent ranges end up
// next to each other for coalescing.
func sortFreeRanges(r []freeRange) {
	sort.Slice(r, func(i, j int) bool { return r[i].off < r[j].off })
}
