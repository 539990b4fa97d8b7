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

// WriteSelector selects the servers which accept writes: the primary of a
// replica set, any router of a sharded cluster or the server of a standalone
// cluster.
var WriteSelector ServerSelector = ServerSelectorFunc(selectWritable)

func selectWritable(cluster *ClusterDescription, candidates []*ServerDescription) []*ServerDescription {
	switch cluster.Type {
	case ClusterTypeStandalone:
		if len(cluster.Servers) == 1 {
			return candidates
		}
		return filterServers(candidates, func(s *ServerDescription) bool { return s.Type == ServerTypeStandalone })
	case ClusterTypeReplicaSet:
		return filterServers(candidates, func(s *ServerDescription) bool {
			return s.Type == ServerTypeReplicaSetPrimary
		})
	case ClusterTypeSharded:
		return filterServers(candidates, func(s *ServerDescription) bool {
			return s.Type == ServerTypeShardRouter
		})
	}
	return nil
}

type ReadPreferenceMode int

const (
	ReadPreferencePrimary ReadPreferenceMode = iota
	ReadPreferencePrimaryPreferred
	ReadPreferenceSecondary
	ReadPreferenceSecondaryPreferred
	ReadPreferenceNearest
)

var readPreferenceModeNames = map[ReadPreferenceMode]string{
	ReadPreferencePrimary:            "primary",
	ReadPreferencePrimaryPreferred:   "primaryPreferred",
	ReadPreferenceSecondary:          "secondary",
	ReadPreferenceSecondaryPreferred: "secondaryPreferred",
	ReadPreferenceNearest:            "nearest",
}

func (m ReadPreferenceMode) String() string {
	if name, ok := readPreferenceModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ReadPreferenceMode(%d)", int(m))
}

func ParseReadPreferenceMode(s string) (ReadPreferenceMode, error) {
	for mode, name := range readPreferenceModeNames {
		if strings.EqualFold(name, s) {
			return mode, nil
		}
	}
	return ReadPreferencePrimary, fmt.Errorf("unknown read preference mode %q", s)
}

// ReadPreferenceSelector selects servers for a read.  Outside of a replica set
// every data bearing server is eligible.  Within one, secondaries are matched
// against the tag sets in order, the first tag set matching any secondary
// wins and an empty tag set matches every secondary.  Nearest matches the tag
// sets against the primary and secondaries together.
func ReadPreferenceSelector(mode ReadPreferenceMode, tagSets ...map[string]string) ServerSelector {
	return ServerSelectorFunc(func(cluster *ClusterDescription, candidates []*ServerDescription) []*ServerDescription {
		switch cluster.Type {
		case ClusterTypeStandalone, ClusterTypeSharded:
			return selectWritable(cluster, candidates)
		case ClusterTypeReplicaSet:
		default:
			return nil
		}

		if mode == ReadPreferenceNearest {
			return matchTagSets(filterServers(candidates, func(s *ServerDescription) bool {
				return s.Type == ServerTypeReplicaSetPrimary || s.Type == ServerTypeReplicaSetSecondary
			}), tagSets)
		}

		primaries := filterServers(candidates, func(s *ServerDescription) bool {
			return s.Type == ServerTypeReplicaSetPrimary
		})
		secondaries := matchTagSets(filterServers(candidates, func(s *ServerDescription) bool {
			return s.Type == ServerTypeReplicaSetSecondary
		}), tagSets)

		switch mode {
		case ReadPreferencePrimary:
			return primaries
		case ReadPreferencePrimaryPreferred:
			if len(primaries) > 0 {
				return primaries
			}
			return secondaries
		case ReadPreferenceSecondary:
			return secondaries
		case ReadPreferenceSecondaryPreferred:
			if len(secondaries) > 0 {
				return secondaries
			}
			return primaries
		}
		return nil
	})
}

func filterServers(servers []*ServerDescription, keep func(s *ServerDescription) bool) []*ServerDescription {
	var out []*ServerDescription
	for _, server := range servers {
		if keep(server) {
			out = append(out, server)
		}
	}
	return out
}

func matchTagSets(servers []*ServerDescription, tagSets []map[string]string) []*ServerDescription {
	if len(tagSets) == 0 {
		return servers
	}

	for _, tagSet := range tagSets {
		matched := filterServers(servers, func(s *ServerDescription) bool {
			for key, value := range tagSet {
				if s.Tags[key] != value {
					return false
				}
			}
			return true
		})
		if len(matched) > 0 {
			return matched
		}
	}

	return nil
}
