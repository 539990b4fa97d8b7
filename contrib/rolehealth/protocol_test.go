/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package rolehealth

import (
	"testing"
	"time"

	"github.com/couchbase/stellar-topology/topology"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestHelloRoundTrip(t *testing.T) {
	role := &topology.HelloResult{
		Type:        topology.ServerTypeReplicaSetSecondary,
		Tags:        map[string]string{"dc": "east", "rack": "4"},
		WireVersion: &topology.WireVersionRange{Min: 6, Max: 21},
		ReplicaSetConfig: &topology.ReplicaSetConfig{
			Name:    "rs0",
			Version: 7,
			Members: []string{"a:1", "b:1"},
		},
		RoundTripTime: 3 * time.Millisecond,
	}

	md := EncodeHello(role)
	require.Equal(t, []string{"dc=east,rack=4"}, md.Get(TagsKey))

	decoded, err := DecodeHello(md, false)
	require.NoError(t, err)
	require.Zero(t, decoded.RoundTripTime)

	decoded.RoundTripTime = role.RoundTripTime
	require.Equal(t, role, decoded)

	trusted, err := DecodeHello(md, true)
	require.NoError(t, err)
	require.Equal(t, 3*time.Millisecond, trusted.RoundTripTime)
}

func TestEncodeNilRole(t *testing.T) {
	decoded, err := DecodeHello(EncodeHello(nil), false)
	require.NoError(t, err)
	require.Equal(t, topology.ServerTypeUnknown, decoded.Type)
}

func TestDecodeHelloErrors(t *testing.T) {
	testCases := []struct {
		name string
		md   metadata.MD
	}{
		{"MissingType", metadata.Pairs()},
		{"UnknownType", metadata.Pairs(ServerTypeKey, "Mainframe")},
		{"BadTag", metadata.Pairs(ServerTypeKey, "Standalone", TagsKey, "nokey")},
		{"BadWireVersion", metadata.Pairs(ServerTypeKey, "Standalone", WireVersionKey, "9-2")},
		{"BadSetVersion", metadata.Pairs(ServerTypeKey, "ReplicaSetPrimary", SetNameKey, "rs0", SetVersionKey, "x")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeHello(tc.md, false)
			require.Error(t, err)
		})
	}
}
