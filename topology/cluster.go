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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/stellar-topology/pkg/metrics"
	"github.com/couchbase/stellar-topology/utils/netutils"
	"github.com/couchbase/stellar-topology/utils/sliceutils"
	"github.com/couchbase/stellar-topology/utils/stateguard"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultPort                   = 27017
	DefaultServerSelectionTimeout = 30 * time.Second
	DefaultLocalThreshold         = 15 * time.Millisecond
)

const (
	clusterStateCreated int32 = iota
	clusterStateInitialized
	clusterStateDisposed
)

type ClusterOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.TopologyMetrics

	// ClusterID identifies the cluster in descriptions and logs.  A random
	// id is generated when it is empty.
	ClusterID string

	Seeds          []string
	Type           ClusterType
	ReplicaSetName string
	DefaultPort    int

	Prober      Prober
	StatePolicy StatePolicy

	HeartbeatInterval      time.Duration
	MinHeartbeatInterval   time.Duration
	ProbeTimeout           time.Duration
	ServerSelectionTimeout time.Duration
	LocalThreshold         time.Duration
}

// publishedDescription pairs a description with a channel which is closed
// once a newer description replaces it.
type publishedDescription struct {
	desc      *ClusterDescription
	changedCh chan struct{}
}

type atomicPublishedDescription struct {
	Value atomic.Value
}

func (t *atomicPublishedDescription) Load() *publishedDescription {
	return t.Value.Load().(*publishedDescription)
}

func (t *atomicPublishedDescription) Store(new *publishedDescription) {
	t.Value.Store(new)
}

// Cluster owns the authoritative description of a deployment.  Reports from
// the monitors of its servers are merged one at a time under a single lock,
// and every merge publishes exactly one new description.
type Cluster struct {
	logger         *zap.Logger
	metrics        *metrics.TopologyMetrics
	clusterID      string
	replicaSetName string
	defaultPort    int
	// direct is set when the caller asked for a standalone cluster, in which
	// case the single seed is used whatever its role.
	direct         bool
	prober         Prober
	policy         StatePolicy

	heartbeatInterval      time.Duration
	minHeartbeatInterval   time.Duration
	probeTimeout           time.Duration
	serverSelectionTimeout time.Duration
	localThreshold         time.Duration

	state   *stateguard.Guard
	current atomicPublishedDescription

	lock          sync.Mutex
	seeds         []string
	monitors      map[string]*ServerMonitor
	subscriptions map[*Subscription]struct{}
}

func NewCluster(opts *ClusterOptions) (*Cluster, error) {
	if opts == nil {
		opts = &ClusterOptions{}
	}

	if opts.Prober == nil {
		return nil, ErrNoProber
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	topoMetrics := opts.Metrics
	if topoMetrics == nil {
		topoMetrics = metrics.GetTopologyMetrics()
	}

	clusterID := opts.ClusterID
	if clusterID == "" {
		clusterID = uuid.NewString()
	}

	defaultPort := opts.DefaultPort
	if defaultPort <= 0 {
		defaultPort = DefaultPort
	}

	policy := opts.StatePolicy
	if policy == nil {
		policy = DefaultStatePolicy{}
	}

	serverSelectionTimeout := opts.ServerSelectionTimeout
	if serverSelectionTimeout <= 0 {
		serverSelectionTimeout = DefaultServerSelectionTimeout
	}

	localThreshold := opts.LocalThreshold
	if localThreshold <= 0 {
		localThreshold = DefaultLocalThreshold
	}

	if len(opts.Seeds) == 0 {
		return nil, ErrNoSeeds
	}

	var seeds []string
	for _, seed := range opts.Seeds {
		endpoint, err := netutils.NormalizeEndpoint(seed, defaultPort)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidSeedList, "%s", err)
		}

		seeds = append(seeds, endpoint)
	}
	seeds = sliceutils.RemoveDuplicates(seeds)

	clusterType, err := resolveInitialClusterType(opts.Type, opts.ReplicaSetName, len(seeds))
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		logger:                 logger.With(zap.String("clusterId", clusterID)),
		metrics:                topoMetrics,
		clusterID:              clusterID,
		replicaSetName:         opts.ReplicaSetName,
		defaultPort:            defaultPort,
		direct:                 clusterType == ClusterTypeStandalone,
		prober:                 opts.Prober,
		policy:                 policy,
		heartbeatInterval:      opts.HeartbeatInterval,
		minHeartbeatInterval:   opts.MinHeartbeatInterval,
		probeTimeout:           opts.ProbeTimeout,
		serverSelectionTimeout: serverSelectionTimeout,
		localThreshold:         localThreshold,
		state:                  stateguard.New(clusterStateCreated),
		seeds:                  seeds,
		monitors:               make(map[string]*ServerMonitor),
		subscriptions:          make(map[*Subscription]struct{}),
	}

	c.current.Store(&publishedDescription{
		desc:      CreateUninitialized(clusterID, clusterType),
		changedCh: make(chan struct{}),
	})

	return c, nil
}

func resolveInitialClusterType(clusterType ClusterType, replicaSetName string, numSeeds int) (ClusterType, error) {
	if replicaSetName != "" {
		switch clusterType {
		case ClusterTypeUnknown:
			clusterType = ClusterTypeReplicaSet
		case ClusterTypeReplicaSet:
		default:
			return ClusterTypeUnknown, errors.Wrapf(ErrConflictingClusterType,
				"replica set name %q specified for a %s cluster", replicaSetName, clusterType)
		}
	}

	if clusterType == ClusterTypeStandalone && numSeeds > 1 {
		return ClusterTypeUnknown, errors.Wrapf(ErrConflictingClusterType,
			"standalone cluster specified with %d seeds", numSeeds)
	}

	return clusterType, nil
}

func (c *Cluster) ClusterID() string {
	return c.clusterID
}

// Initialize starts monitoring the seed servers.  It is safe to call more
// than once, but fails once the cluster has been disposed.
func (c *Cluster) Initialize() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state.Is(clusterStateDisposed) {
		return ErrClusterDisposed
	}

	if !c.state.TryChangeFrom(clusterStateCreated, clusterStateInitialized) {
		return nil
	}

	c.logger.Info("initializing cluster",
		zap.Strings("seeds", c.seeds),
		zap.Stringer("type", c.current.Load().desc.Type))

	for _, seed := range c.seeds {
		c.addMonitorLocked(seed)
	}

	return nil
}

// Dispose stops every monitor and publishes a final disposed description.
// Only the first call has any effect.  It returns once all monitors exited.
func (c *Cluster) Dispose() {
	c.lock.Lock()

	if !c.state.TryChange(clusterStateDisposed) {
		c.lock.Unlock()
		return
	}

	c.logger.Info("disposing cluster")

	monitors := make([]*ServerMonitor, 0, len(c.monitors))
	for _, monitor := range c.monitors {
		monitor.Stop()
		monitors = append(monitors, monitor)
	}
	c.monitors = make(map[string]*ServerMonitor)

	cur := c.current.Load().desc
	c.publishLocked(CreateDisposed(c.clusterID, cur.Type).WithRevision(cur.Revision + 1))

	for sub := range c.subscriptions {
		sub.ch.Close()
	}
	c.subscriptions = make(map[*Subscription]struct{})

	c.lock.Unlock()

	for _, monitor := range monitors {
		<-monitor.Done()
		c.releaseEndpoint(monitor.Endpoint())
	}
}

// CurrentDescription returns the most recently published description.  It
// never blocks.
func (c *Cluster) CurrentDescription() *ClusterDescription {
	return c.current.Load().desc
}

// MonitoredEndpoints returns the endpoints currently being monitored, sorted.
func (c *Cluster) MonitoredEndpoints() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.monitoredEndpointsLocked()
}

func (c *Cluster) monitoredEndpointsLocked() []string {
	endpoints := make([]string, 0, len(c.monitors))
	for endpoint := range c.monitors {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

// RequestHeartbeat asks the monitor of a server to probe it again soon, for
// instance because normal traffic to it failed.  Unknown endpoints are
// ignored.
func (c *Cluster) RequestHeartbeat(endpoint string) {
	endpoint, err := netutils.NormalizeEndpoint(endpoint, c.defaultPort)
	if err != nil {
		c.logger.Debug("ignoring heartbeat request for invalid endpoint", zap.Error(err))
		return
	}

	c.lock.Lock()
	monitor := c.monitors[endpoint]
	c.lock.Unlock()

	if monitor != nil {
		monitor.RequestCheck()
	}
}

func (c *Cluster) addMonitorLocked(endpoint string) {
	if _, ok := c.monitors[endpoint]; ok {
		return
	}

	monitor, err := NewServerMonitor(&ServerMonitorOptions{
		Logger:               c.logger.Named("monitor"),
		ServerID:             ServerID{ClusterID: c.clusterID, Endpoint: endpoint},
		Prober:               c.prober,
		Reporter:             c.handleReport,
		Metrics:              c.metrics,
		HeartbeatInterval:    c.heartbeatInterval,
		MinHeartbeatInterval: c.minHeartbeatInterval,
		ProbeTimeout:         c.probeTimeout,
	})
	if err != nil {
		c.logger.Error("failed to create server monitor",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return
	}

	c.monitors[endpoint] = monitor
	monitor.Start()
}

func (c *Cluster) removeMonitorLocked(endpoint string) {
	monitor, ok := c.monitors[endpoint]
	if !ok {
		return
	}

	delete(c.monitors, endpoint)
	monitor.Stop()

	go func() {
		<-monitor.Done()

		c.lock.Lock()
		_, tracked := c.monitors[endpoint]
		c.lock.Unlock()

		// the endpoint may have been re-added in the meantime
		if !tracked {
			c.releaseEndpoint(endpoint)
		}
	}()
}

func (c *Cluster) releaseEndpoint(endpoint string) {
	if releaser, ok := c.prober.(EndpointReleaser); ok {
		releaser.Release(endpoint)
	}
}

func (c *Cluster) handleReport(monitor *ServerMonitor, desc *ServerDescription) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state.Is(clusterStateDisposed) {
		return
	}

	// reports from monitors which have since been removed are stale.
	if monitor.IsStopped() || c.monitors[monitor.Endpoint()] != monitor {
		c.logger.Debug("discarding report from removed monitor",
			zap.String("endpoint", monitor.Endpoint()))
		return
	}

	cur := c.current.Load().desc
	next := c.applyReportLocked(cur, desc)
	c.publishLocked(next.WithRevision(cur.Revision + 1))
}

func (c *Cluster) applyReportLocked(cur *ClusterDescription, desc *ServerDescription) *ClusterDescription {
	next := cur

	if next.Type == ClusterTypeUnknown && desc.State == ServerStateConnected {
		if inferred := clusterTypeForServer(desc.Type); inferred != ClusterTypeUnknown {
			c.logger.Info("discovered cluster type",
				zap.Stringer("type", inferred),
				zap.String("endpoint", desc.ID.Endpoint))
			next = next.WithType(inferred)
		}
	}

	desc = c.checkCompatibility(next, desc)
	next = next.WithServerDescription(desc)

	if next.Type == ClusterTypeReplicaSet &&
		desc.State == ServerStateConnected &&
		desc.ReplicaSetConfig != nil {
		next = c.adoptReplicaSetConfigLocked(next, desc)
	}

	return next.WithState(c.policy.ClusterState(next))
}

// checkCompatibility replaces the description of a server whose role cannot
// take part in the cluster with a disconnected one carrying the reason.
func (c *Cluster) checkCompatibility(cluster *ClusterDescription, desc *ServerDescription) *ServerDescription {
	if desc.State != ServerStateConnected || desc.Type == ServerTypeUnknown {
		return desc
	}

	var reason string
	switch cluster.Type {
	case ClusterTypeReplicaSet:
		if !desc.Type.IsReplicaSetMember() {
			reason = fmt.Sprintf("%s server in a replica set", desc.Type)
			break
		}

		expectedName := c.replicaSetName
		if expectedName == "" && cluster.ReplicaSetConfig != nil {
			expectedName = cluster.ReplicaSetConfig.Name
		}
		if expectedName != "" && desc.ReplicaSetConfig != nil && desc.ReplicaSetConfig.Name != expectedName {
			reason = fmt.Sprintf("member of replica set %q, expected %q", desc.ReplicaSetConfig.Name, expectedName)
		}
	case ClusterTypeSharded:
		if desc.Type != ServerTypeShardRouter {
			reason = fmt.Sprintf("%s server in a sharded cluster", desc.Type)
		}
	case ClusterTypeStandalone:
		if (!c.direct || len(c.monitors) > 1) && desc.Type != ServerTypeStandalone {
			reason = fmt.Sprintf("%s server in a standalone cluster", desc.Type)
		}
	}

	if reason == "" {
		return desc
	}

	c.logger.Warn("server is incompatible with the cluster",
		zap.String("endpoint", desc.ID.Endpoint),
		zap.String("reason", reason))

	return &ServerDescription{
		ID:            desc.ID,
		Type:          ServerTypeUnknown,
		State:         ServerStateDisconnected,
		LastHeartbeat: desc.LastHeartbeat,
		HeartbeatErr:  fmt.Errorf("%w: %s", ErrIncompatibleServer, reason),
	}
}

// adoptReplicaSetConfigLocked replaces the cluster's replica set config when
// the reporting server carries a newer one, primaries winning ties, and then
// brings the monitor roster in line with its member list.
func (c *Cluster) adoptReplicaSetConfigLocked(cur *ClusterDescription, reporter *ServerDescription) *ClusterDescription {
	config := reporter.ReplicaSetConfig
	known := cur.ReplicaSetConfig

	if known != nil {
		if config.Version < known.Version {
			return cur
		}
		if config.Version == known.Version &&
			!config.Equal(known) &&
			reporter.Type != ServerTypeReplicaSetPrimary {
			return cur
		}
	}

	if !config.Equal(known) {
		c.logger.Info("adopting replica set config",
			zap.String("endpoint", reporter.ID.Endpoint),
			zap.Object("config", config))
	}

	next := cur.WithReplicaSetConfig(config)
	return c.reconcileRosterLocked(next, config.Members)
}

// reconcileRosterLocked starts monitors for members which are not tracked yet
// and stops those of servers which are no longer members.  Running it again
// with the same members changes nothing.
func (c *Cluster) reconcileRosterLocked(cur *ClusterDescription, members []string) *ClusterDescription {
	var wanted []string
	for _, member := range members {
		endpoint, err := netutils.NormalizeEndpoint(member, c.defaultPort)
		if err != nil {
			c.logger.Warn("ignoring invalid replica set member",
				zap.String("member", member),
				zap.Error(err))
			continue
		}

		wanted = append(wanted, endpoint)
	}
	wanted = sliceutils.RemoveDuplicates(wanted)

	if len(wanted) == 0 {
		return cur
	}

	tracked := c.monitoredEndpointsLocked()
	added := sliceutils.Subtract(wanted, tracked)
	removed := sliceutils.Subtract(tracked, wanted)

	if len(added) == 0 && len(removed) == 0 {
		return cur
	}

	c.logger.Info("reconciling server monitors",
		zap.Strings("added", added),
		zap.Strings("removed", removed))

	for _, endpoint := range added {
		c.addMonitorLocked(endpoint)
	}

	next := cur
	for _, endpoint := range removed {
		c.removeMonitorLocked(endpoint)
		next = next.WithoutServer(endpoint)
	}

	return next
}

func (c *Cluster) publishLocked(desc *ClusterDescription) {
	prev := c.current.Load()

	c.current.Store(&publishedDescription{
		desc:      desc,
		changedCh: make(chan struct{}),
	})
	close(prev.changedCh)

	for sub := range c.subscriptions {
		sub.ch.Send(desc)
	}

	c.metrics.RecordRevision(context.Background(), c.clusterID)

	if prev.desc.State != desc.State || prev.desc.Type != desc.Type {
		c.logger.Info("cluster state changed",
			zap.Stringer("type", desc.Type),
			zap.Stringer("state", desc.State),
			zap.Uint64("revision", desc.Revision))
	}

	c.logger.Debug("published cluster description", zap.Object("description", desc))
}
