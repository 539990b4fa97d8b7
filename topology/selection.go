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
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// ServerSelector narrows the selectable servers of a cluster down to those
// which are eligible for an operation.  Candidates are always connected and
// of a known type.  Implementations must not block.
type ServerSelector interface {
	SelectServers(cluster *ClusterDescription, candidates []*ServerDescription) []*ServerDescription
}

// ServerSelectorFunc adapts a plain function to the ServerSelector interface.
type ServerSelectorFunc func(cluster *ClusterDescription, candidates []*ServerDescription) []*ServerDescription

func (f ServerSelectorFunc) SelectServers(cluster *ClusterDescription, candidates []*ServerDescription) []*ServerDescription {
	return f(cluster, candidates)
}

// SelectServer returns a server chosen by selector, waiting for new
// descriptions to be published while nothing is eligible.  A zero deadline
// uses the configured server selection timeout.  Cancelling ctx aborts the
// wait with ErrSelectionCancelled, reaching the deadline fails with a
// *ServerSelectionTimeoutError.
func (c *Cluster) SelectServer(ctx context.Context, selector ServerSelector, deadline time.Time) (*ServerDescription, error) {
	startTime := time.Now()
	if deadline.IsZero() {
		deadline = startTime.Add(c.serverSelectionTimeout)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil, c.selectionCancelled(ctx, startTime)
		}

		published := c.current.Load()
		server, err := c.trySelect(published.desc, selector, startTime)
		if err != nil || server != nil {
			return server, err
		}

		select {
		case <-ctx.Done():
			return nil, c.selectionCancelled(ctx, startTime)
		case <-published.changedCh:
		case <-timer.C:
			// a description may have been published just as the deadline
			// expired, give it one last look.
			last := c.current.Load().desc
			server, err := c.trySelect(last, selector, startTime)
			if err != nil || server != nil {
				return server, err
			}

			c.logger.Debug("server selection timed out",
				zap.Duration("waited", time.Since(startTime)),
				zap.Object("description", last))
			c.metrics.RecordSelection(context.Background(), "timeout", time.Since(startTime))
			return nil, &ServerSelectionTimeoutError{Description: last}
		}
	}
}

func (c *Cluster) selectionCancelled(ctx context.Context, startTime time.Time) error {
	c.metrics.RecordSelection(context.Background(), "cancelled", time.Since(startTime))
	return fmt.Errorf("%w: %w", ErrSelectionCancelled, context.Cause(ctx))
}

func (c *Cluster) trySelect(desc *ClusterDescription, selector ServerSelector, startTime time.Time) (*ServerDescription, error) {
	if desc.State == ClusterStateDisposed {
		c.metrics.RecordSelection(context.Background(), "disposed", time.Since(startTime))
		return nil, ErrClusterDisposed
	}

	server := selectFromDescription(desc, selector, c.localThreshold)
	if server != nil {
		c.metrics.RecordSelection(context.Background(), "selected", time.Since(startTime))
	}

	return server, nil
}

func selectFromDescription(desc *ClusterDescription, selector ServerSelector, localThreshold time.Duration) *ServerDescription {
	var candidates []*ServerDescription
	for _, server := range desc.Servers {
		if server.IsSelectable() {
			candidates = append(candidates, server)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	eligible := selector.SelectServers(desc, candidates)
	eligible = withinLatencyWindow(eligible, localThreshold)
	if len(eligible) == 0 {
		return nil
	}

	return eligible[rand.IntN(len(eligible))]
}

// withinLatencyWindow keeps the servers whose average round-trip time is
// within threshold of the fastest one.
func withinLatencyWindow(servers []*ServerDescription, threshold time.Duration) []*ServerDescription {
	if len(servers) <= 1 {
		return servers
	}

	fastest := servers[0].AverageRoundTripTime
	for _, server := range servers[1:] {
		if server.AverageRoundTripTime < fastest {
			fastest = server.AverageRoundTripTime
		}
	}

	var out []*ServerDescription
	for _, server := range servers {
		if server.AverageRoundTripTime <= fastest+threshold {
			out = append(out, server)
		}
	}
	return out
}
