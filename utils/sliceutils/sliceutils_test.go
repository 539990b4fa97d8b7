/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package sliceutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoveDuplicates(t *testing.T) {
	require.Nil(t, RemoveDuplicates[string](nil))
	require.Equal(t, []string{"a", "b", "c"}, RemoveDuplicates([]string{"a", "b", "a", "c", "b"}))
	require.Equal(t, []int{3, 1, 2}, RemoveDuplicates([]int{3, 3, 1, 2, 1}))
}

func TestSubtract(t *testing.T) {
	require.Nil(t, Subtract([]string{"a"}, []string{"a"}))
	require.Equal(t, []string{"a", "c"}, Subtract([]string{"a", "b", "c"}, []string{"b", "d"}))
	require.Equal(t, []string{"a"}, Subtract([]string{"a"}, nil))
}
