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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFakeUnreachable = errors.New("connection refused")

type probeResponse struct {
	result *HelloResult
	err    error
}

// fakeProber answers probes with a per-endpoint response which tests can
// change at any time.  Endpoints without a response are unreachable.
type fakeProber struct {
	lock      sync.Mutex
	responses map[string]probeResponse
	calls     map[string]int
	released  []string
}

var _ Prober = (*fakeProber)(nil)
var _ EndpointReleaser = (*fakeProber)(nil)

func newFakeProber() *fakeProber {
	return &fakeProber{
		responses: make(map[string]probeResponse),
		calls:     make(map[string]int),
	}
}

func (p *fakeProber) Set(endpoint string, result *HelloResult) {
	p.lock.Lock()
	p.responses[endpoint] = probeResponse{result: result}
	p.lock.Unlock()
}

func (p *fakeProber) SetError(endpoint string, err error) {
	p.lock.Lock()
	p.responses[endpoint] = probeResponse{err: err}
	p.lock.Unlock()
}

func (p *fakeProber) Calls(endpoint string) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.calls[endpoint]
}

func (p *fakeProber) Released() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]string(nil), p.released...)
}

func (p *fakeProber) Probe(ctx context.Context, endpoint string) (*HelloResult, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.calls[endpoint]++

	resp, ok := p.responses[endpoint]
	if !ok {
		return nil, errFakeUnreachable
	}
	return resp.result, resp.err
}

func (p *fakeProber) Release(endpoint string) {
	p.lock.Lock()
	p.released = append(p.released, endpoint)
	p.lock.Unlock()
}

// sequenceProber answers each probe with the next scripted response,
// repeating the final one once the script is exhausted.
type sequenceProber struct {
	lock      sync.Mutex
	responses []probeResponse
	next      int
}

func (p *sequenceProber) Probe(ctx context.Context, endpoint string) (*HelloResult, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	resp := p.responses[p.next]
	if p.next < len(p.responses)-1 {
		p.next++
	}
	return resp.result, resp.err
}

func replicaSetMember(serverType ServerType, config *ReplicaSetConfig) *HelloResult {
	return &HelloResult{
		Type:             serverType,
		WireVersion:      &WireVersionRange{Min: 6, Max: 21},
		ReplicaSetConfig: config,
	}
}

// newTestCluster builds a cluster whose monitors only probe on start and on
// explicit heartbeat requests.
func newTestCluster(t *testing.T, prober Prober, mutate func(opts *ClusterOptions)) *Cluster {
	opts := &ClusterOptions{
		ClusterID:            "test-cluster",
		Seeds:                []string{"a:1"},
		Prober:               prober,
		HeartbeatInterval:    time.Hour,
		MinHeartbeatInterval: time.Millisecond,
		ProbeTimeout:         time.Second,
	}
	if mutate != nil {
		mutate(opts)
	}

	cluster, err := NewCluster(opts)
	require.NoError(t, err)

	t.Cleanup(cluster.Dispose)

	return cluster
}

// waitForDescription reads from the subscription until a description
// matching check arrives.
func waitForDescription(
	t *testing.T,
	sub *Subscription,
	check func(desc *ClusterDescription) bool,
) *ClusterDescription {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case desc, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed while waiting for description")
			}
			if check(desc) {
				return desc
			}
		case <-timeout:
			t.Fatalf("timed out waiting for description")
		}
	}
}

func waitForRevision(t *testing.T, sub *Subscription, revision uint64) *ClusterDescription {
	t.Helper()

	return waitForDescription(t, sub, func(desc *ClusterDescription) bool {
		return desc.Revision >= revision
	})
}
