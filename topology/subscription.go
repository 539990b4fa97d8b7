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
	"github.com/couchbase/stellar-topology/utils/latestonly"
	"github.com/couchbase/stellar-topology/utils/stateguard"
)

const (
	subscriptionStateActive int32 = iota
	subscriptionStateClosed
)

// Subscription delivers published cluster descriptions in revision order.
// A consumer which falls behind skips straight to the latest description
// rather than holding up publication.
type Subscription struct {
	cluster *Cluster
	ch      *latestonly.Channel[*ClusterDescription]
	state   *stateguard.Guard
}

// Subscribe registers a new subscription.  The current description is
// delivered first.  Once the cluster is disposed the final description is
// delivered and the channel is closed.  Unsubscribe must be called even after
// the cluster is disposed unless the channel has been read until closed.
func (c *Cluster) Subscribe() *Subscription {
	sub := &Subscription{
		cluster: c,
		ch:      latestonly.New[*ClusterDescription](),
		state:   stateguard.New(subscriptionStateActive),
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	sub.ch.Send(c.current.Load().desc)

	if c.state.Is(clusterStateDisposed) {
		sub.ch.Close()
		return sub
	}

	c.subscriptions[sub] = struct{}{}
	return sub
}

// C returns the channel descriptions are delivered on.  It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan *ClusterDescription {
	return s.ch.C()
}

// Unsubscribe stops delivery, dropping any description not yet read.  It is
// safe to call more than once and after the cluster is disposed.
func (s *Subscription) Unsubscribe() {
	if !s.state.TryChangeFrom(subscriptionStateActive, subscriptionStateClosed) {
		return
	}

	s.cluster.lock.Lock()
	delete(s.cluster.subscriptions, s)
	s.cluster.lock.Unlock()

	s.ch.Abort()
}
