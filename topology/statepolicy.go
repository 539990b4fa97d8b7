/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

// StatePolicy decides the overall state of a cluster from the descriptions
// of its servers.  It is called under the cluster's lock with a description
// which does not yet carry a final state, and must not block.
type StatePolicy interface {
	ClusterState(desc *ClusterDescription) ClusterState
}

// StatePolicyFunc adapts a plain function to the StatePolicy interface.
type StatePolicyFunc func(desc *ClusterDescription) ClusterState

func (f StatePolicyFunc) ClusterState(desc *ClusterDescription) ClusterState {
	return f(desc)
}

// DefaultStatePolicy reports Connected once a server which can serve the
// cluster's contract is reachable: any server for a standalone cluster, the
// primary of a replica set, or any router of a sharded cluster.  Anything
// short of that, once some server has reported, is PartiallyConnected.
type DefaultStatePolicy struct{}

var _ StatePolicy = DefaultStatePolicy{}

func (DefaultStatePolicy) ClusterState(desc *ClusterDescription) ClusterState {
	if len(desc.Servers) == 0 {
		return ClusterStateUninitialized
	}

	reported := false
	for _, server := range desc.Servers {
		if !server.LastHeartbeat.IsZero() {
			reported = true
		}

		if !server.IsSelectable() {
			continue
		}

		switch desc.Type {
		case ClusterTypeStandalone:
			return ClusterStateConnected
		case ClusterTypeReplicaSet:
			if server.Type == ServerTypeReplicaSetPrimary {
				return ClusterStateConnected
			}
		case ClusterTypeSharded:
			if server.Type == ServerTypeShardRouter {
				return ClusterStateConnected
			}
		}
	}

	if !reported {
		return ClusterStateUninitialized
	}

	return ClusterStatePartiallyConnected
}
