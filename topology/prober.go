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
	"context"
	"time"
)

// HelloResult is what a probe learned about a server.
type HelloResult struct {
	Type             ServerType
	Tags             map[string]string
	WireVersion      *WireVersionRange
	ReplicaSetConfig *ReplicaSetConfig

	// RoundTripTime overrides the locally measured probe duration when it
	// is non-zero, for transports which can measure it more accurately.
	RoundTripTime time.Duration
}

// Prober is the connection-pooling collaborator used by monitors.  Probe must
// honour cancellation of the passed context and must be safe to call
// concurrently for different endpoints.
type Prober interface {
	Probe(ctx context.Context, endpoint string) (*HelloResult, error)
}

// EndpointReleaser is optionally implemented by a Prober which holds
// resources per endpoint.  Release is called once the monitor for that
// endpoint has stopped.
type EndpointReleaser interface {
	Release(endpoint string)
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context, endpoint string) (*HelloResult, error)

func (f ProberFunc) Probe(ctx context.Context, endpoint string) (*HelloResult, error) {
	return f(ctx, endpoint)
}
