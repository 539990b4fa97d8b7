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
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ServerID identifies a monitored server.  It stays the same for the lifetime
// of the monitor, even when the role of the server changes.
type ServerID struct {
	ClusterID string
	Endpoint  string
}

func (id ServerID) String() string {
	return fmt.Sprintf("{ ClusterId : %q, EndPoint : %q }", id.ClusterID, id.Endpoint)
}

type WireVersionRange struct {
	Min int
	Max int
}

func (r *WireVersionRange) Equal(o *WireVersionRange) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Min == o.Min && r.Max == o.Max
}

func (r *WireVersionRange) String() string {
	if r == nil {
		return "null"
	}
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// ServerDescription is an immutable snapshot of the observed state of a
// single server.  Descriptions must never be modified after creation, use the
// With* methods to derive new ones.
type ServerDescription struct {
	ID    ServerID
	Type  ServerType
	State ServerState

	AverageRoundTripTime time.Duration
	LastHeartbeat        time.Time
	HeartbeatErr         error

	Tags             map[string]string
	WireVersion      *WireVersionRange
	ReplicaSetConfig *ReplicaSetConfig
}

// NewServerDescription creates the description of a server which has not
// been successfully contacted.
func NewServerDescription(id ServerID) *ServerDescription {
	return &ServerDescription{
		ID:    id,
		Type:  ServerTypeUnknown,
		State: ServerStateDisconnected,
	}
}

// IsSelectable reports whether the server is reachable and has a known role.
func (s *ServerDescription) IsSelectable() bool {
	return s.State == ServerStateConnected && s.Type != ServerTypeUnknown
}

func heartbeatErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Equal compares every field of the two descriptions.  Heartbeat errors are
// compared by their message.
func (s *ServerDescription) Equal(o *ServerDescription) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}

	return s.ID == o.ID &&
		s.Type == o.Type &&
		s.State == o.State &&
		s.AverageRoundTripTime == o.AverageRoundTripTime &&
		s.LastHeartbeat.Equal(o.LastHeartbeat) &&
		(s.HeartbeatErr == nil) == (o.HeartbeatErr == nil) &&
		heartbeatErrString(s.HeartbeatErr) == heartbeatErrString(o.HeartbeatErr) &&
		maps.Equal(s.Tags, o.Tags) &&
		s.WireVersion.Equal(o.WireVersion) &&
		s.ReplicaSetConfig.Equal(o.ReplicaSetConfig)
}

func (s *ServerDescription) writeHash(d *xxhash.Digest) {
	_, _ = d.WriteString(fmt.Sprintf("%s|%s|%d|%d|%d|%d|",
		s.ID.ClusterID, s.ID.Endpoint,
		s.Type, s.State,
		s.AverageRoundTripTime,
		s.LastHeartbeat.UnixNano()))

	if s.HeartbeatErr != nil {
		_, _ = d.WriteString("err:" + s.HeartbeatErr.Error() + "|")
	}

	tagKeys := make([]string, 0, len(s.Tags))
	for key := range s.Tags {
		tagKeys = append(tagKeys, key)
	}
	slices.Sort(tagKeys)
	for _, key := range tagKeys {
		_, _ = d.WriteString(key + "=" + s.Tags[key] + ",")
	}

	_, _ = d.WriteString("|wire:" + s.WireVersion.String() + "|")
	s.ReplicaSetConfig.writeHash(d)
}

// Hash returns a hash covering every field compared by Equal.
func (s *ServerDescription) Hash() uint64 {
	d := xxhash.New()
	s.writeHash(d)
	return d.Sum64()
}

func (s *ServerDescription) derive(mutate func(n *ServerDescription)) *ServerDescription {
	n := *s
	mutate(&n)
	if n.Equal(s) {
		return s
	}
	return &n
}

func (s *ServerDescription) WithType(t ServerType) *ServerDescription {
	return s.derive(func(n *ServerDescription) { n.Type = t })
}

func (s *ServerDescription) WithState(state ServerState) *ServerDescription {
	return s.derive(func(n *ServerDescription) { n.State = state })
}

func (s *ServerDescription) WithAverageRoundTripTime(rtt time.Duration) *ServerDescription {
	return s.derive(func(n *ServerDescription) { n.AverageRoundTripTime = rtt })
}

func (s *ServerDescription) WithHeartbeat(at time.Time, err error) *ServerDescription {
	return s.derive(func(n *ServerDescription) {
		n.LastHeartbeat = at
		n.HeartbeatErr = err
	})
}

func (s *ServerDescription) WithTags(tags map[string]string) *ServerDescription {
	return s.derive(func(n *ServerDescription) { n.Tags = maps.Clone(tags) })
}

func (s *ServerDescription) WithWireVersion(r *WireVersionRange) *ServerDescription {
	return s.derive(func(n *ServerDescription) { n.WireVersion = r })
}

func (s *ServerDescription) WithReplicaSetConfig(c *ReplicaSetConfig) *ServerDescription {
	return s.derive(func(n *ServerDescription) { n.ReplicaSetConfig = c })
}

func (s *ServerDescription) formatTags() string {
	tagKeys := make([]string, 0, len(s.Tags))
	for key := range s.Tags {
		tagKeys = append(tagKeys, key)
	}
	slices.Sort(tagKeys)

	parts := make([]string, 0, len(tagKeys))
	for _, key := range tagKeys {
		parts = append(parts, fmt.Sprintf("%q : %q", key, s.Tags[key]))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func (s *ServerDescription) String() string {
	if s == nil {
		return "null"
	}

	heartbeatErr := "null"
	if s.HeartbeatErr != nil {
		heartbeatErr = fmt.Sprintf("%q", s.HeartbeatErr.Error())
	}

	return fmt.Sprintf("{ ServerId : %s, Type : %q, State : %q, AverageRoundTripTime : %q, "+
		"LastHeartbeat : %q, HeartbeatError : %s, Tags : %s, WireVersion : %s, ReplicaSetConfig : %s }",
		s.ID, s.Type, s.State, s.AverageRoundTripTime,
		s.LastHeartbeat.Format(time.RFC3339Nano), heartbeatErr, s.formatTags(),
		s.WireVersion, s.ReplicaSetConfig)
}

func (s *ServerDescription) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("endpoint", s.ID.Endpoint)
	enc.AddString("type", s.Type.String())
	enc.AddString("state", s.State.String())
	enc.AddDuration("averageRoundTripTime", s.AverageRoundTripTime)
	enc.AddTime("lastHeartbeat", s.LastHeartbeat)
	if s.HeartbeatErr != nil {
		enc.AddString("heartbeatError", s.HeartbeatErr.Error())
	}
	if s.ReplicaSetConfig != nil {
		return enc.AddObject("replicaSetConfig", s.ReplicaSetConfig)
	}
	return nil
}
