/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package rolehealth implements the server side of the role probe protocol.
// A probe is a standard gRPC health check, the node advertises its role in
// the response header metadata.
package rolehealth

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchbase/stellar-topology/topology"
	"google.golang.org/grpc/metadata"
)

const (
	ServerTypeKey  = "x-topo-server-type"
	TagsKey        = "x-topo-tags"
	WireVersionKey = "x-topo-wire-version"
	SetNameKey     = "x-topo-set-name"
	SetVersionKey  = "x-topo-set-version"
	SetMembersKey  = "x-topo-set-members"
	RttHintKey     = "x-topo-rtt-hint"
)

// EncodeHello renders a role into header metadata.
func EncodeHello(role *topology.HelloResult) metadata.MD {
	md := metadata.MD{}
	if role == nil {
		md.Set(ServerTypeKey, topology.ServerTypeUnknown.String())
		return md
	}

	md.Set(ServerTypeKey, role.Type.String())

	if len(role.Tags) > 0 {
		keys := make([]string, 0, len(role.Tags))
		for key := range role.Tags {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, key+"="+role.Tags[key])
		}
		md.Set(TagsKey, strings.Join(parts, ","))
	}

	if role.WireVersion != nil {
		md.Set(WireVersionKey, fmt.Sprintf("%d-%d", role.WireVersion.Min, role.WireVersion.Max))
	}

	if role.ReplicaSetConfig != nil {
		md.Set(SetNameKey, role.ReplicaSetConfig.Name)
		md.Set(SetVersionKey, strconv.FormatInt(role.ReplicaSetConfig.Version, 10))
		md.Set(SetMembersKey, strings.Join(role.ReplicaSetConfig.Members, ","))
	}

	if role.RoundTripTime > 0 {
		md.Set(RttHintKey, role.RoundTripTime.String())
	}

	return md
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// DecodeHello parses a role from header metadata.  The round-trip hint is
// only used when trustRttHint is set.
func DecodeHello(md metadata.MD, trustRttHint bool) (*topology.HelloResult, error) {
	typeStr := firstValue(md, ServerTypeKey)
	if typeStr == "" {
		return nil, fmt.Errorf("missing %s header", ServerTypeKey)
	}

	serverType, err := topology.ParseServerType(typeStr)
	if err != nil {
		return nil, err
	}

	result := &topology.HelloResult{
		Type: serverType,
	}

	if tagsStr := firstValue(md, TagsKey); tagsStr != "" {
		result.Tags = make(map[string]string)
		for _, part := range strings.Split(tagsStr, ",") {
			key, value, ok := strings.Cut(part, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid tag %q", part)
			}
			result.Tags[key] = value
		}
	}

	if wireStr := firstValue(md, WireVersionKey); wireStr != "" {
		minStr, maxStr, ok := strings.Cut(wireStr, "-")
		if !ok {
			return nil, fmt.Errorf("invalid wire version %q", wireStr)
		}

		minVersion, minErr := strconv.Atoi(minStr)
		maxVersion, maxErr := strconv.Atoi(maxStr)
		if minErr != nil || maxErr != nil || minVersion > maxVersion {
			return nil, fmt.Errorf("invalid wire version %q", wireStr)
		}

		result.WireVersion = &topology.WireVersionRange{Min: minVersion, Max: maxVersion}
	}

	if setName := firstValue(md, SetNameKey); setName != "" {
		version, err := strconv.ParseInt(firstValue(md, SetVersionKey), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid replica set version: %w", err)
		}

		var members []string
		if membersStr := firstValue(md, SetMembersKey); membersStr != "" {
			members = strings.Split(membersStr, ",")
		}

		result.ReplicaSetConfig = &topology.ReplicaSetConfig{
			Name:    setName,
			Version: version,
			Members: members,
		}
	}

	if trustRttHint {
		if hintStr := firstValue(md, RttHintKey); hintStr != "" {
			hint, err := time.ParseDuration(hintStr)
			if err != nil {
				return nil, fmt.Errorf("invalid rtt hint: %w", err)
			}
			result.RoundTripTime = hint
		}
	}

	return result, nil
}
