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

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
)

// ClusterDescription is an immutable snapshot of everything known about the
// cluster.  Revision orders snapshots but is deliberately not part of the
// value, two descriptions which only differ in revision are Equal.
type ClusterDescription struct {
	ClusterID        string
	Type             ClusterType
	State            ClusterState
	Servers          []*ServerDescription
	ReplicaSetConfig *ReplicaSetConfig
	Revision         uint64
}

// CreateUninitialized creates the description used before any server has
// reported.
func CreateUninitialized(clusterID string, clusterType ClusterType) *ClusterDescription {
	return &ClusterDescription{
		ClusterID: clusterID,
		Type:      clusterType,
		State:     ClusterStateUninitialized,
	}
}

// CreateDisposed creates the description published once a cluster has been
// torn down.
func CreateDisposed(clusterID string, clusterType ClusterType) *ClusterDescription {
	return &ClusterDescription{
		ClusterID: clusterID,
		Type:      clusterType,
		State:     ClusterStateDisposed,
	}
}

func (c *ClusterDescription) Equal(o *ClusterDescription) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}

	return c.ClusterID == o.ClusterID &&
		c.Type == o.Type &&
		c.State == o.State &&
		slices.EqualFunc(c.Servers, o.Servers, func(a, b *ServerDescription) bool {
			return a.Equal(b)
		}) &&
		c.ReplicaSetConfig.Equal(o.ReplicaSetConfig)
}

// Hash returns a hash of every field compared by Equal, so it excludes the
// revision.
func (c *ClusterDescription) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(fmt.Sprintf("%s|%d|%d|", c.ClusterID, c.Type, c.State))
	for _, server := range c.Servers {
		server.writeHash(d)
		_, _ = d.WriteString(";")
	}
	c.ReplicaSetConfig.writeHash(d)
	return d.Sum64()
}

func (c *ClusterDescription) serverIndex(endpoint string) int {
	return slices.IndexFunc(c.Servers, func(s *ServerDescription) bool {
		return s.ID.Endpoint == endpoint
	})
}

// Server returns the description of the server at endpoint, or nil.
func (c *ClusterDescription) Server(endpoint string) *ServerDescription {
	idx := c.serverIndex(endpoint)
	if idx < 0 {
		return nil
	}
	return c.Servers[idx]
}

// Endpoints returns the endpoints of all servers in order.
func (c *ClusterDescription) Endpoints() []string {
	endpoints := make([]string, len(c.Servers))
	for idx, server := range c.Servers {
		endpoints[idx] = server.ID.Endpoint
	}
	return endpoints
}

func (c *ClusterDescription) clone() *ClusterDescription {
	n := *c
	return &n
}

// WithServerDescription replaces the description of the server with the same
// endpoint, keeping its position, or appends it if the server is new.
func (c *ClusterDescription) WithServerDescription(s *ServerDescription) *ClusterDescription {
	idx := c.serverIndex(s.ID.Endpoint)
	if idx >= 0 {
		if c.Servers[idx].Equal(s) {
			return c
		}

		n := c.clone()
		n.Servers = slices.Clone(c.Servers)
		n.Servers[idx] = s
		return n
	}

	n := c.clone()
	n.Servers = append(slices.Clone(c.Servers), s)
	return n
}

// WithoutServer removes the server at endpoint.
func (c *ClusterDescription) WithoutServer(endpoint string) *ClusterDescription {
	idx := c.serverIndex(endpoint)
	if idx < 0 {
		return c
	}

	n := c.clone()
	n.Servers = slices.Delete(slices.Clone(c.Servers), idx, idx+1)
	return n
}

func (c *ClusterDescription) WithType(t ClusterType) *ClusterDescription {
	if c.Type == t {
		return c
	}

	n := c.clone()
	n.Type = t
	return n
}

func (c *ClusterDescription) WithState(state ClusterState) *ClusterDescription {
	if c.State == state {
		return c
	}

	n := c.clone()
	n.State = state
	return n
}

func (c *ClusterDescription) WithReplicaSetConfig(config *ReplicaSetConfig) *ClusterDescription {
	if c.ReplicaSetConfig.Equal(config) {
		return c
	}

	n := c.clone()
	n.ReplicaSetConfig = config
	return n
}

// WithRevision returns a copy carrying a different revision.  The copy is
// still Equal to the original.
func (c *ClusterDescription) WithRevision(revision uint64) *ClusterDescription {
	if c.Revision == revision {
		return c
	}

	n := c.clone()
	n.Revision = revision
	return n
}

func (c *ClusterDescription) String() string {
	if c == nil {
		return "null"
	}

	servers := make([]string, len(c.Servers))
	for idx, server := range c.Servers {
		servers[idx] = server.String()
	}

	return fmt.Sprintf("{ ClusterId : %q, Type : %q, State : %q, Servers : [%s], ReplicaSetConfig : %s, Revision : %d }",
		c.ClusterID, c.Type, c.State, strings.Join(servers, ", "), c.ReplicaSetConfig, c.Revision)
}

type serverDescriptionArray []*ServerDescription

func (a serverDescriptionArray) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, server := range a {
		err := enc.AppendObject(server)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ClusterDescription) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("clusterId", c.ClusterID)
	enc.AddString("type", c.Type.String())
	enc.AddString("state", c.State.String())
	enc.AddUint64("revision", c.Revision)
	if c.ReplicaSetConfig != nil {
		err := enc.AddObject("replicaSetConfig", c.ReplicaSetConfig)
		if err != nil {
			return err
		}
	}
	return enc.AddArray("servers", serverDescriptionArray(c.Servers))
}
