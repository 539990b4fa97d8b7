/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package etcdseeds

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Registration holds a node's seed entry.  The entry is bound to a lease
// which is kept alive in the background and re-granted if it is ever lost.
type Registration struct {
	logger      *zap.Logger
	etcdClient  *etcd.Client
	key         string
	endpoint    string
	leasePeriod time.Duration

	ctx      context.Context
	cancelFn context.CancelFunc
	doneCh   chan struct{}

	// only touched by the maintain goroutine after registration
	leaseID etcd.LeaseID
}

// Register adds endpoint to the seed list until the registration is
// withdrawn or the process stops keeping its lease alive.
func (r *Registry) Register(ctx context.Context, opts *RegisterOptions) (*Registration, error) {
	if opts == nil || opts.Endpoint == "" {
		return nil, errors.New("an endpoint must be specified")
	}

	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	leasePeriod := 5 * time.Second
	if opts.LeasePeriod != 0 {
		// minimum lease period is 5 seconds...  etcdv3 also has this restriction
		if opts.LeasePeriod < 5*time.Second {
			return nil, errors.New("lease period must be at least 5 seconds")
		}

		leasePeriod = opts.LeasePeriod
	}

	regCtx, cancelFn := context.WithCancel(context.Background())

	reg := &Registration{
		logger:      r.logger.With(zap.String("nodeId", nodeID)),
		etcdClient:  r.etcdClient,
		key:         r.seedsPrefix() + nodeID,
		endpoint:    opts.Endpoint,
		leasePeriod: leasePeriod,
		ctx:         regCtx,
		cancelFn:    cancelFn,
		doneCh:      make(chan struct{}),
	}

	kaCh, err := reg.grantAndPut(ctx)
	if err != nil {
		cancelFn()
		return nil, err
	}

	go reg.maintain(kaCh)

	return reg, nil
}

func (reg *Registration) Key() string {
	return reg.key
}

func (reg *Registration) grantAndPut(ctx context.Context) (<-chan *etcd.LeaseKeepAliveResponse, error) {
	leaseTimeoutInSecs := int64(reg.leasePeriod / time.Second)

	lease, err := reg.etcdClient.Lease.Grant(ctx, leaseTimeoutInSecs)
	if err != nil {
		return nil, err
	}

	_, err = reg.etcdClient.KV.Put(ctx, reg.key, reg.endpoint, etcd.WithLease(lease.ID))
	if err != nil {
		_, _ = reg.etcdClient.Lease.Revoke(ctx, lease.ID)
		return nil, err
	}

	kaCh, err := reg.etcdClient.Lease.KeepAlive(reg.ctx, lease.ID)
	if err != nil {
		_, _ = reg.etcdClient.Lease.Revoke(ctx, lease.ID)
		return nil, err
	}

	reg.leaseID = lease.ID
	return kaCh, nil
}

func (reg *Registration) maintain(kaCh <-chan *etcd.LeaseKeepAliveResponse) {
	defer close(reg.doneCh)

	for {
		// wait for the lease keep-alive to close
		for range kaCh {
		}

		if reg.ctx.Err() != nil {
			return
		}

		reg.logger.Warn("lost seed registration lease, registering again")

		err := backoff.Retry(func() error {
			newKaCh, err := reg.grantAndPut(reg.ctx)
			if err != nil {
				// a closed etcd client reports cancellation, retrying
				// cannot succeed.
				if errors.Is(err, context.Canceled) {
					return backoff.Permanent(err)
				}

				reg.logger.Debug("failed to register seed", zap.Error(err))
				return err
			}

			kaCh = newKaCh
			return nil
		}, backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0)), reg.ctx))
		if err != nil {
			return
		}
	}
}

// Deregister removes the seed entry and stops keeping its lease alive.
func (reg *Registration) Deregister(ctx context.Context) error {
	reg.cancelFn()
	<-reg.doneCh

	_, err := reg.etcdClient.KV.Delete(ctx, reg.key)
	if err != nil {
		return err
	}

	_, err = reg.etcdClient.Lease.Revoke(ctx, reg.leaseID)
	if err != nil {
		reg.logger.Debug("failed to revoke seed lease", zap.Error(err))
	}

	return nil
}
