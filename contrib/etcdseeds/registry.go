/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package etcdseeds keeps a registry of seed endpoints in etcd.  Nodes
// register themselves under a key prefix with a lease, and clients resolve
// the seed list for a cluster from whatever is currently registered.
package etcdseeds

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

var ErrNoRegisteredSeeds = errors.New("no seeds are registered")

type RegistryOptions struct {
	Logger     *zap.Logger
	EtcdClient *etcd.Client
	KeyPrefix  string
}

type Registry struct {
	logger     *zap.Logger
	etcdClient *etcd.Client
	keyPrefix  string
}

type SeedsSnapshot struct {
	Revision  int64
	Endpoints []string
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("an etcd client must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		logger:     logger,
		etcdClient: opts.EtcdClient,
		keyPrefix:  opts.KeyPrefix,
	}, nil
}

func (r *Registry) seedsPrefix() string {
	return r.keyPrefix + "/"
}

func sortedEndpoints(keyMap map[string]string) []string {
	endpoints := make([]string, 0, len(keyMap))
	seen := make(map[string]struct{}, len(keyMap))
	for _, endpoint := range keyMap {
		if _, ok := seen[endpoint]; ok {
			continue
		}
		seen[endpoint] = struct{}{}
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

// Seeds returns the endpoints currently registered.
func (r *Registry) Seeds(ctx context.Context) (*SeedsSnapshot, error) {
	resp, err := r.etcdClient.KV.Get(ctx, r.seedsPrefix(), etcd.WithPrefix())
	if err != nil {
		return nil, err
	}

	keyMap := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keyMap[string(kv.Key)] = string(kv.Value)
	}

	return &SeedsSnapshot{
		Revision:  resp.Header.Revision,
		Endpoints: sortedEndpoints(keyMap),
	}, nil
}

// Resolve waits until at least one seed is registered, retrying with an
// exponential backoff until ctx is done.
func (r *Registry) Resolve(ctx context.Context) ([]string, error) {
	var endpoints []string

	err := backoff.Retry(func() error {
		snap, err := r.Seeds(ctx)
		if err != nil {
			r.logger.Debug("failed to fetch seeds", zap.Error(err))
			return err
		}

		if len(snap.Endpoints) == 0 {
			return ErrNoRegisteredSeeds
		}

		endpoints = snap.Endpoints
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0)), ctx))
	if err != nil {
		return nil, err
	}

	return endpoints, nil
}

// WatchSeeds emits the registered seeds, and again every time they change.
// The channel is closed once ctx is cancelled.
func (r *Registry) WatchSeeds(ctx context.Context) (<-chan *SeedsSnapshot, error) {
	outputCh := make(chan *SeedsSnapshot, 1)
	keyMap := make(map[string]string)
	prefix := r.seedsPrefix()

	// fetch the initial state of the seeds
	resp, err := r.etcdClient.KV.Get(ctx, prefix, etcd.WithPrefix())
	if err != nil {
		return nil, err
	}

	for _, kv := range resp.Kvs {
		keyMap[string(kv.Key)] = string(kv.Value)
	}

	outputCh <- &SeedsSnapshot{
		Revision:  resp.Header.Revision,
		Endpoints: sortedEndpoints(keyMap),
	}

	watchCh := r.etcdClient.Watcher.Watch(ctx, prefix,
		etcd.WithPrefix(),
		etcd.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(outputCh)

		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				r.logger.Warn("seed watch failed", zap.Error(err))
				return
			}

			for _, watchEvt := range watchResp.Events {
				switch watchEvt.Type {
				case mvccpb.PUT:
					keyMap[string(watchEvt.Kv.Key)] = string(watchEvt.Kv.Value)
				case mvccpb.DELETE:
					delete(keyMap, string(watchEvt.Kv.Key))
				}
			}

			select {
			case outputCh <- &SeedsSnapshot{
				Revision:  watchResp.Header.Revision,
				Endpoints: sortedEndpoints(keyMap),
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}

type RegisterOptions struct {
	NodeID      string
	Endpoint    string
	LeasePeriod time.Duration
}
