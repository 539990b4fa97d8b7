/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func endpointsOf(servers []*ServerDescription) []string {
	var out []string
	for _, server := range servers {
		out = append(out, server.ID.Endpoint)
	}
	return out
}

func TestWriteSelector(t *testing.T) {
	primary := testServerDescription("a:1").WithType(ServerTypeReplicaSetPrimary)
	secondary := testServerDescription("b:1")
	router := testServerDescription("c:1").WithType(ServerTypeShardRouter)
	standalone := testServerDescription("d:1").WithType(ServerTypeStandalone)

	testCases := []struct {
		clusterType ClusterType
		candidates  []*ServerDescription
		expected    []string
	}{
		{ClusterTypeReplicaSet, []*ServerDescription{primary, secondary}, []string{"a:1"}},
		{ClusterTypeReplicaSet, []*ServerDescription{secondary}, nil},
		{ClusterTypeSharded, []*ServerDescription{router}, []string{"c:1"}},
		{ClusterTypeStandalone, []*ServerDescription{standalone}, []string{"d:1"}},
		{ClusterTypeUnknown, []*ServerDescription{standalone}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.clusterType.String(), func(t *testing.T) {
			cluster := &ClusterDescription{Type: tc.clusterType}
			selected := WriteSelector.SelectServers(cluster, tc.candidates)
			require.Equal(t, tc.expected, endpointsOf(selected))
		})
	}
}

func TestWriteSelectorStandalone(t *testing.T) {
	standalone := testServerDescription("a:1").WithType(ServerTypeStandalone)
	secondary := testServerDescription("b:1")

	t.Run("SingleServer", func(t *testing.T) {
		cluster := &ClusterDescription{
			Type:    ClusterTypeStandalone,
			Servers: []*ServerDescription{secondary},
		}
		selected := WriteSelector.SelectServers(cluster, []*ServerDescription{secondary})
		require.Equal(t, []string{"b:1"}, endpointsOf(selected))
	})

	t.Run("ManyServers", func(t *testing.T) {
		cluster := &ClusterDescription{
			Type:    ClusterTypeStandalone,
			Servers: []*ServerDescription{standalone, secondary},
		}
		selected := WriteSelector.SelectServers(cluster, []*ServerDescription{standalone, secondary})
		require.Equal(t, []string{"a:1"}, endpointsOf(selected))
	})
}

func TestReadPreferenceSelector(t *testing.T) {
	primary := testServerDescription("p:1").WithType(ServerTypeReplicaSetPrimary)
	east := testServerDescription("e:1").WithTags(map[string]string{"dc": "east"})
	west := testServerDescription("w:1").WithTags(map[string]string{"dc": "west", "rack": "2"})
	arbiter := testServerDescription("a:1").WithType(ServerTypeReplicaSetArbiter)

	all := []*ServerDescription{primary, east, west, arbiter}
	noPrimary := []*ServerDescription{east, west, arbiter}
	replicaSet := &ClusterDescription{Type: ClusterTypeReplicaSet}

	testCases := []struct {
		name       string
		selector   ServerSelector
		candidates []*ServerDescription
		expected   []string
	}{
		{"Primary", ReadPreferenceSelector(ReadPreferencePrimary), all, []string{"p:1"}},
		{"PrimaryMissing", ReadPreferenceSelector(ReadPreferencePrimary), noPrimary, nil},
		{"PrimaryPreferred", ReadPreferenceSelector(ReadPreferencePrimaryPreferred), all, []string{"p:1"}},
		{"PrimaryPreferredFallback", ReadPreferenceSelector(ReadPreferencePrimaryPreferred), noPrimary, []string{"e:1", "w:1"}},
		{"Secondary", ReadPreferenceSelector(ReadPreferenceSecondary), all, []string{"e:1", "w:1"}},
		{"SecondaryPreferred", ReadPreferenceSelector(ReadPreferenceSecondaryPreferred), all, []string{"e:1", "w:1"}},
		{"SecondaryPreferredFallback", ReadPreferenceSelector(ReadPreferenceSecondaryPreferred), []*ServerDescription{primary}, []string{"p:1"}},
		{"Nearest", ReadPreferenceSelector(ReadPreferenceNearest), all, []string{"p:1", "e:1", "w:1"}},
		{
			"TagSets",
			ReadPreferenceSelector(ReadPreferenceSecondary, map[string]string{"dc": "west", "rack": "2"}),
			all,
			[]string{"w:1"},
		},
		{
			"TagSetsFirstMatchWins",
			ReadPreferenceSelector(ReadPreferenceSecondary,
				map[string]string{"dc": "north"},
				map[string]string{"dc": "east"},
				map[string]string{}),
			all,
			[]string{"e:1"},
		},
		{
			"EmptyTagSetMatchesAll",
			ReadPreferenceSelector(ReadPreferenceSecondary, map[string]string{"dc": "north"}, map[string]string{}),
			all,
			[]string{"e:1", "w:1"},
		},
		{
			"NearestTagSetsExcludePrimary",
			ReadPreferenceSelector(ReadPreferenceNearest, map[string]string{"dc": "west"}),
			all,
			[]string{"w:1"},
		},
		{
			"NearestTagSetsIncludePrimary",
			ReadPreferenceSelector(ReadPreferenceNearest, map[string]string{"dc": "east"}),
			all,
			[]string{"p:1", "e:1"},
		},
		{
			"NoTagSetMatches",
			ReadPreferenceSelector(ReadPreferenceSecondary, map[string]string{"dc": "north"}),
			all,
			nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			selected := tc.selector.SelectServers(replicaSet, tc.candidates)
			require.Equal(t, tc.expected, endpointsOf(selected))
		})
	}

	t.Run("Sharded", func(t *testing.T) {
		router := testServerDescription("r:1").WithType(ServerTypeShardRouter)
		selected := ReadPreferenceSelector(ReadPreferenceSecondary).SelectServers(
			&ClusterDescription{Type: ClusterTypeSharded}, []*ServerDescription{router})
		require.Equal(t, []string{"r:1"}, endpointsOf(selected))
	})
}

func TestParseReadPreferenceMode(t *testing.T) {
	mode, err := ParseReadPreferenceMode("SECONDARYPREFERRED")
	require.NoError(t, err)
	require.Equal(t, ReadPreferenceSecondaryPreferred, mode)
	require.Equal(t, "secondaryPreferred", mode.String())

	_, err = ParseReadPreferenceMode("closest")
	require.Error(t, err)
}
