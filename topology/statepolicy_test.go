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

func TestDefaultStatePolicy(t *testing.T) {
	server := func(endpoint string, serverType ServerType, state ServerState) *ServerDescription {
		return &ServerDescription{
			ID:            ServerID{ClusterID: "c1", Endpoint: endpoint},
			Type:          serverType,
			State:         state,
			LastHeartbeat: time.Now(),
		}
	}

	testCases := []struct {
		name        string
		clusterType ClusterType
		servers     []*ServerDescription
		expected    ClusterState
	}{
		{"NoServers", ClusterTypeReplicaSet, nil, ClusterStateUninitialized},
		{
			"StandaloneUp",
			ClusterTypeStandalone,
			[]*ServerDescription{server("a:1", ServerTypeStandalone, ServerStateConnected)},
			ClusterStateConnected,
		},
		{
			"StandaloneDown",
			ClusterTypeStandalone,
			[]*ServerDescription{server("a:1", ServerTypeUnknown, ServerStateDisconnected)},
			ClusterStatePartiallyConnected,
		},
		{
			"ReplicaSetWithPrimary",
			ClusterTypeReplicaSet,
			[]*ServerDescription{
				server("a:1", ServerTypeReplicaSetSecondary, ServerStateConnected),
				server("b:1", ServerTypeReplicaSetPrimary, ServerStateConnected),
			},
			ClusterStateConnected,
		},
		{
			"ReplicaSetWithoutPrimary",
			ClusterTypeReplicaSet,
			[]*ServerDescription{
				server("a:1", ServerTypeReplicaSetSecondary, ServerStateConnected),
				server("b:1", ServerTypeUnknown, ServerStateDisconnected),
			},
			ClusterStatePartiallyConnected,
		},
		{
			"ShardedWithRouter",
			ClusterTypeSharded,
			[]*ServerDescription{
				server("a:1", ServerTypeUnknown, ServerStateDisconnected),
				server("b:1", ServerTypeShardRouter, ServerStateConnected),
			},
			ClusterStateConnected,
		},
		{
			"UnknownType",
			ClusterTypeUnknown,
			[]*ServerDescription{server("a:1", ServerTypeUnknown, ServerStateDisconnected)},
			ClusterStatePartiallyConnected,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			desc := &ClusterDescription{
				ClusterID: "c1",
				Type:      tc.clusterType,
				Servers:   tc.servers,
			}
			require.Equal(t, tc.expected, DefaultStatePolicy{}.ClusterState(desc))
		})
	}
}

func TestClusterUsesCustomStatePolicy(t *testing.T) {
	prober := newFakeProber()
	prober.Set("a:1", &HelloResult{Type: ServerTypeStandalone})

	cluster := newTestCluster(t, prober, func(opts *ClusterOptions) {
		opts.StatePolicy = StatePolicyFunc(func(desc *ClusterDescription) ClusterState {
			return ClusterStatePartiallyConnected
		})
	})
	sub := cluster.Subscribe()
	defer sub.Unsubscribe()
	require.NoError(t, cluster.Initialize())

	desc := waitForRevision(t, sub, 1)
	require.Equal(t, ClusterStatePartiallyConnected, desc.State)
}
