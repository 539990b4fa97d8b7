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

// ReplicaSetConfig is the replica set membership as seen by one server.  It is
// treated as immutable once it has been attached to a description.
type ReplicaSetConfig struct {
	Name    string
	Version int64
	Members []string
}

func (c *ReplicaSetConfig) Equal(o *ReplicaSetConfig) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}

	return c.Name == o.Name &&
		c.Version == o.Version &&
		slices.Equal(c.Members, o.Members)
}

func (c *ReplicaSetConfig) writeHash(d *xxhash.Digest) {
	if c == nil {
		_, _ = d.WriteString("rs:none;")
		return
	}

	_, _ = d.WriteString(fmt.Sprintf("rs:%s:%d;", c.Name, c.Version))
	for _, member := range c.Members {
		_, _ = d.WriteString(member)
		_, _ = d.WriteString(",")
	}
}

func (c *ReplicaSetConfig) String() string {
	if c == nil {
		return "null"
	}

	return fmt.Sprintf("{ Name : %q, Version : %d, Members : [%s] }",
		c.Name, c.Version, strings.Join(c.Members, ", "))
}

func (c *ReplicaSetConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", c.Name)
	enc.AddInt64("version", c.Version)
	enc.AddString("members", strings.Join(c.Members, ","))
	return nil
}
