/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/couchbase/stellar-topology/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type TopologyMetrics struct {
	Heartbeats         metric.Int64Counter
	HeartbeatRoundTrip metric.Float64Histogram
	ActiveMonitors     metric.Int64UpDownCounter
	Revisions          metric.Int64Counter
	Selections         metric.Int64Counter
	SelectionWait      metric.Float64Histogram
}

var (
	topologyMetrics     *TopologyMetrics
	topologyMetricsLock sync.Mutex
)

// GetTopologyMetrics returns the process-wide instruments, creating them from
// the global meter provider on first use.
func GetTopologyMetrics() *TopologyMetrics {
	topologyMetricsLock.Lock()

	if topologyMetrics != nil {
		topologyMetricsLock.Unlock()
		return topologyMetrics
	}

	topologyMetrics = NewTopologyMetrics(otel.GetMeterProvider())

	topologyMetricsLock.Unlock()
	return topologyMetrics
}

func NewTopologyMetrics(provider metric.MeterProvider) *TopologyMetrics {
	meter := provider.Meter(
		"com.couchbase.stellar-topology",
		metric.WithInstrumentationVersion(version.GetVersion(version.ModulePath)))

	heartbeats, _ := meter.Int64Counter("topology_heartbeats_total",
		metric.WithDescription("Number of server heartbeats by outcome"))
	heartbeatRoundTrip, _ := meter.Float64Histogram("topology_heartbeat_rtt_seconds",
		metric.WithDescription("Round-trip time of successful heartbeats"),
		metric.WithUnit("s"))
	activeMonitors, _ := meter.Int64UpDownCounter("topology_monitors",
		metric.WithDescription("Number of running server monitors"))
	revisions, _ := meter.Int64Counter("topology_revisions_total",
		metric.WithDescription("Number of cluster descriptions published"))
	selections, _ := meter.Int64Counter("topology_selections_total",
		metric.WithDescription("Number of server selections by outcome"))
	selectionWait, _ := meter.Float64Histogram("topology_selection_wait_seconds",
		metric.WithDescription("Time spent waiting for server selection"),
		metric.WithUnit("s"))

	return &TopologyMetrics{
		Heartbeats:         heartbeats,
		HeartbeatRoundTrip: heartbeatRoundTrip,
		ActiveMonitors:     activeMonitors,
		Revisions:          revisions,
		Selections:         selections,
		SelectionWait:      selectionWait,
	}
}

func (m *TopologyMetrics) RecordHeartbeat(ctx context.Context, endpoint string, err error, rtt time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	m.Heartbeats.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome)))

	if err == nil {
		m.HeartbeatRoundTrip.Record(ctx, rtt.Seconds(), metric.WithAttributes(
			attribute.String("endpoint", endpoint)))
	}
}

func (m *TopologyMetrics) RecordMonitorStarted(ctx context.Context) {
	m.ActiveMonitors.Add(ctx, 1)
}

func (m *TopologyMetrics) RecordMonitorStopped(ctx context.Context) {
	m.ActiveMonitors.Add(ctx, -1)
}

func (m *TopologyMetrics) RecordRevision(ctx context.Context, clusterID string) {
	m.Revisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cluster_id", clusterID)))
}

func (m *TopologyMetrics) RecordSelection(ctx context.Context, outcome string, wait time.Duration) {
	m.Selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome)))
	m.SelectionWait.Record(ctx, wait.Seconds())
}

// NodeMetrics are recorded by the server side of the probe protocol.
type NodeMetrics struct {
	ProbesServed metric.Int64Counter
	ActiveProbes metric.Int64UpDownCounter
}

var (
	nodeMetrics     *NodeMetrics
	nodeMetricsLock sync.Mutex
)

func GetNodeMetrics() *NodeMetrics {
	nodeMetricsLock.Lock()
	defer nodeMetricsLock.Unlock()

	if nodeMetrics == nil {
		nodeMetrics = NewNodeMetrics(otel.GetMeterProvider())
	}
	return nodeMetrics
}

func NewNodeMetrics(provider metric.MeterProvider) *NodeMetrics {
	meter := provider.Meter(
		"com.couchbase.stellar-topology.node",
		metric.WithInstrumentationVersion(version.GetVersion(version.ModulePath)))

	probesServed, _ := meter.Int64Counter("node_probes_served_total",
		metric.WithDescription("Number of probes answered by status code"))
	activeProbes, _ := meter.Int64UpDownCounter("node_probes_active",
		metric.WithDescription("Number of probes currently being answered"))

	return &NodeMetrics{
		ProbesServed: probesServed,
		ActiveProbes: activeProbes,
	}
}

func (m *NodeMetrics) RecordProbeServed(ctx context.Context, code string) {
	m.ProbesServed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code)))
}
