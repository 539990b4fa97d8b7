/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package sliceutils

// RemoveDuplicates removes any duplicate entries from a list, keeping the
// first occurrence of each.
func RemoveDuplicates[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	var out []T
	for _, v := range in {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Subtract returns the entries of a which do not appear in b, in the order
// they appear in a.
func Subtract[T comparable](a, b []T) []T {
	exclude := make(map[T]struct{}, len(b))
	for _, v := range b {
		exclude[v] = struct{}{}
	}

	var out []T
	for _, v := range a {
		if _, ok := exclude[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
