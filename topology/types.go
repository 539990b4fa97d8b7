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
	"fmt"
	"strings"
)

type ServerType int

const (
	ServerTypeUnknown ServerType = iota
	ServerTypeStandalone
	ServerTypeReplicaSetPrimary
	ServerTypeReplicaSetSecondary
	ServerTypeReplicaSetArbiter
	ServerTypeReplicaSetOther
	ServerTypeReplicaSetGhost
	ServerTypeShardRouter
)

var serverTypeNames = map[ServerType]string{
	ServerTypeUnknown:             "Unknown",
	ServerTypeStandalone:          "Standalone",
	ServerTypeReplicaSetPrimary:   "ReplicaSetPrimary",
	ServerTypeReplicaSetSecondary: "ReplicaSetSecondary",
	ServerTypeReplicaSetArbiter:   "ReplicaSetArbiter",
	ServerTypeReplicaSetOther:     "ReplicaSetOther",
	ServerTypeReplicaSetGhost:     "ReplicaSetGhost",
	ServerTypeShardRouter:         "ShardRouter",
}

func (t ServerType) String() string {
	if name, ok := serverTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ServerType(%d)", int(t))
}

// IsReplicaSetMember reports whether the type is one of the replica set
// member roles.
func (t ServerType) IsReplicaSetMember() bool {
	switch t {
	case ServerTypeReplicaSetPrimary,
		ServerTypeReplicaSetSecondary,
		ServerTypeReplicaSetArbiter,
		ServerTypeReplicaSetOther,
		ServerTypeReplicaSetGhost:
		return true
	}
	return false
}

// ParseServerType parses the name of a server type, case-insensitively.
func ParseServerType(s string) (ServerType, error) {
	for serverType, name := range serverTypeNames {
		if strings.EqualFold(name, s) {
			return serverType, nil
		}
	}
	return ServerTypeUnknown, fmt.Errorf("unknown server type %q", s)
}

type ServerState int

const (
	ServerStateDisconnected ServerState = iota
	ServerStateConnected
)

func (s ServerState) String() string {
	switch s {
	case ServerStateDisconnected:
		return "Disconnected"
	case ServerStateConnected:
		return "Connected"
	}
	return fmt.Sprintf("ServerState(%d)", int(s))
}

type ClusterType int

const (
	ClusterTypeUnknown ClusterType = iota
	ClusterTypeStandalone
	ClusterTypeReplicaSet
	ClusterTypeSharded
)

var clusterTypeNames = map[ClusterType]string{
	ClusterTypeUnknown:    "Unknown",
	ClusterTypeStandalone: "Standalone",
	ClusterTypeReplicaSet: "ReplicaSet",
	ClusterTypeSharded:    "Sharded",
}

func (t ClusterType) String() string {
	if name, ok := clusterTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ClusterType(%d)", int(t))
}

// ParseClusterType parses the name of a cluster type, case-insensitively.  An
// empty string is treated as Unknown.
func ParseClusterType(s string) (ClusterType, error) {
	if s == "" {
		return ClusterTypeUnknown, nil
	}

	for clusterType, name := range clusterTypeNames {
		if strings.EqualFold(name, s) {
			return clusterType, nil
		}
	}
	return ClusterTypeUnknown, fmt.Errorf("unknown cluster type %q", s)
}

// clusterTypeForServer infers the type of cluster a server belongs to from
// the role it reported.  Unknown is returned when the role is not informative.
func clusterTypeForServer(t ServerType) ClusterType {
	switch {
	case t == ServerTypeStandalone:
		return ClusterTypeStandalone
	case t == ServerTypeShardRouter:
		return ClusterTypeSharded
	case t.IsReplicaSetMember():
		return ClusterTypeReplicaSet
	}
	return ClusterTypeUnknown
}

type ClusterState int

const (
	ClusterStateUninitialized ClusterState = iota
	ClusterStateConnected
	ClusterStatePartiallyConnected
	ClusterStateDisposed
)

func (s ClusterState) String() string {
	switch s {
	case ClusterStateUninitialized:
		return "Uninitialized"
	case ClusterStateConnected:
		return "Connected"
	case ClusterStatePartiallyConnected:
		return "PartiallyConnected"
	case ClusterStateDisposed:
		return "Disposed"
	}
	return fmt.Sprintf("ClusterState(%d)", int(s))
}
