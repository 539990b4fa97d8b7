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
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSeedList(t *testing.T) {
	list, err := ParseSeedList("topo://Host1:27018,host2,host1:27018/?replicaSet=rs0&heartbeatInterval=5s&localThreshold=20ms&serverSelectionTimeout=2s")
	require.NoError(t, err)

	require.Equal(t, []string{"host1:27018", "host2:27017"}, list.Seeds)
	require.Equal(t, "rs0", list.ReplicaSetName)
	require.Equal(t, ClusterTypeUnknown, list.Type)
	require.Equal(t, 5*time.Second, list.HeartbeatInterval)
	require.Equal(t, 20*time.Millisecond, list.LocalThreshold)
	require.Equal(t, 2*time.Second, list.ServerSelectionTimeout)

	opts := &ClusterOptions{ProbeTimeout: time.Second}
	list.ApplyTo(opts)
	require.Equal(t, list.Seeds, opts.Seeds)
	require.Equal(t, "rs0", opts.ReplicaSetName)
	require.Equal(t, 5*time.Second, opts.HeartbeatInterval)
	require.Equal(t, time.Second, opts.ProbeTimeout)
}

func TestParseSeedListSchemes(t *testing.T) {
	testCases := []struct {
		name    string
		connStr string
	}{
		{"Topo", "topo://a:1,b?replicaSet=rs0"},
		{"TopoUpperCase", "TOPO://a:1,b?replicaSet=rs0"},
		{"NoScheme", "a:1,b?replicaSet=rs0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			list, err := ParseSeedList(tc.connStr)
			require.NoError(t, err)
			require.Equal(t, []string{"a:1", "b:27017"}, list.Seeds)
			require.Equal(t, "rs0", list.ReplicaSetName)
		})
	}
}

func TestParseSeedListIPv6(t *testing.T) {
	list, err := ParseSeedList("topo://[::1]:27018,[fe80::1]")
	require.NoError(t, err)
	require.Equal(t, []string{"[::1]:27018", "[fe80::1]:27017"}, list.Seeds)
}

func TestParseSeedListConnectModes(t *testing.T) {
	testCases := []struct {
		connStr  string
		expected ClusterType
	}{
		{"topo://a:1?connect=direct", ClusterTypeStandalone},
		{"topo://a:1,b:1?connect=replicaSet", ClusterTypeReplicaSet},
		{"topo://a:1?connect=sharded", ClusterTypeSharded},
		{"topo://a:1?connect=automatic", ClusterTypeUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.connStr, func(t *testing.T) {
			list, err := ParseSeedList(tc.connStr)
			require.NoError(t, err)
			require.Equal(t, tc.expected, list.Type)
		})
	}
}

func TestParseSeedListErrors(t *testing.T) {
	testCases := []struct {
		name    string
		connStr string
		err     error
	}{
		{"CouchbaseScheme", "couchbase://a:1", ErrInvalidSeedList},
		{"HttpScheme", "http://a:1", ErrInvalidSeedList},
		{"UnknownScheme", "mongodb://a:1", ErrInvalidSeedList},
		{"NoHosts", "topo://", ErrNoSeeds},
		{"BadConnectMode", "topo://a:1?connect=sideways", ErrInvalidSeedList},
		{"BadDuration", "topo://a:1?heartbeatInterval=often", ErrInvalidSeedList},
		{"DirectWithManyHosts", "topo://a:1,b:1?connect=direct", ErrConflictingClusterType},
		{"ReplicaSetNameOnSharded", "topo://a:1?connect=sharded&replicaSet=rs0", ErrConflictingClusterType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSeedList(tc.connStr)
			require.ErrorIs(t, err, tc.err)
		})
	}
}
