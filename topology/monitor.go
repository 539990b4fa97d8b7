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

	"github.com/couchbase/stellar-topology/pkg/metrics"
	"github.com/couchbase/stellar-topology/utils/stateguard"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

const (
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultMinHeartbeatInterval = 500 * time.Millisecond
	DefaultProbeTimeout         = 10 * time.Second

	// rttSmoothing is the weight given to a new round-trip sample.
	rttSmoothing = 0.2
)

const (
	monitorStateCreated int32 = iota
	monitorStateIdle
	monitorStateProbing
	monitorStateSucceeded
	monitorStateFailed
	monitorStateStopped
)

// MonitorReporter receives every description produced by a monitor.  It is
// called from the monitor's own goroutine.
type MonitorReporter func(m *ServerMonitor, desc *ServerDescription)

type ServerMonitorOptions struct {
	Logger   *zap.Logger
	ServerID ServerID
	Prober   Prober
	Reporter MonitorReporter
	Metrics  *metrics.TopologyMetrics

	HeartbeatInterval    time.Duration
	MinHeartbeatInterval time.Duration
	ProbeTimeout         time.Duration
}

// ServerMonitor probes a single server on an interval and reports what it
// observed.  Probes of one server never overlap, a probe which outlives the
// heartbeat interval simply delays the next one.
type ServerMonitor struct {
	logger   *zap.Logger
	id       ServerID
	prober   Prober
	reporter MonitorReporter
	metrics  *metrics.TopologyMetrics

	heartbeatInterval    time.Duration
	minHeartbeatInterval time.Duration
	probeTimeout         time.Duration

	state    *stateguard.Guard
	checkCh  chan struct{}
	ctx      context.Context
	cancelFn context.CancelFunc
	doneCh   chan struct{}

	// only touched by the monitor goroutine
	averageRTT time.Duration
	hasRTT     bool
	lastProbe  time.Time
}

func NewServerMonitor(opts *ServerMonitorOptions) (*ServerMonitor, error) {
	if opts == nil {
		opts = &ServerMonitorOptions{}
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

	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	minHeartbeatInterval := opts.MinHeartbeatInterval
	if minHeartbeatInterval <= 0 {
		minHeartbeatInterval = DefaultMinHeartbeatInterval
	}

	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	reporter := opts.Reporter
	if reporter == nil {
		reporter = func(*ServerMonitor, *ServerDescription) {}
	}

	ctx, cancelFn := context.WithCancel(context.Background())

	return &ServerMonitor{
		logger:               logger.With(zap.String("endpoint", opts.ServerID.Endpoint)),
		id:                   opts.ServerID,
		prober:               opts.Prober,
		reporter:             reporter,
		metrics:              topoMetrics,
		heartbeatInterval:    heartbeatInterval,
		minHeartbeatInterval: minHeartbeatInterval,
		probeTimeout:         probeTimeout,
		state:                stateguard.New(monitorStateCreated),
		checkCh:              make(chan struct{}, 1),
		ctx:                  ctx,
		cancelFn:             cancelFn,
		doneCh:               make(chan struct{}),
	}, nil
}

func (m *ServerMonitor) ServerID() ServerID {
	return m.id
}

func (m *ServerMonitor) Endpoint() string {
	return m.id.Endpoint
}

// Start launches the probe loop.  Calling it more than once, or after Stop,
// does nothing.
func (m *ServerMonitor) Start() {
	if !m.state.TryChangeFrom(monitorStateCreated, monitorStateIdle) {
		return
	}

	m.metrics.RecordMonitorStarted(context.Background())
	go m.run()
}

// Stop cancels any in-flight probe and prevents further reports.  It does not
// wait for the loop to exit, use Done for that.
func (m *ServerMonitor) Stop() {
	if m.state.TryChangeFrom(monitorStateCreated, monitorStateStopped) {
		m.cancelFn()
		close(m.doneCh)
		return
	}

	if !m.state.TryChange(monitorStateStopped) {
		return
	}

	m.logger.Debug("stopping server monitor")
	m.cancelFn()
}

// IsStopped reports whether Stop has been called.
func (m *ServerMonitor) IsStopped() bool {
	return m.state.Is(monitorStateStopped)
}

// Done is closed once the probe loop has exited.
func (m *ServerMonitor) Done() <-chan struct{} {
	return m.doneCh
}

// RequestCheck asks for a probe sooner than the heartbeat interval.  Requests
// are coalesced and throttled to MinHeartbeatInterval.
func (m *ServerMonitor) RequestCheck() {
	select {
	case m.checkCh <- struct{}{}:
	default:
	}
}

func (m *ServerMonitor) run() {
	defer close(m.doneCh)
	defer m.metrics.RecordMonitorStopped(context.Background())

	m.logger.Debug("server monitor started")

	for {
		m.check()

		timer := time.NewTimer(m.heartbeatInterval)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			m.logger.Debug("server monitor exited")
			return
		case <-timer.C:
		case <-m.checkCh:
			timer.Stop()

			if !m.throttle() {
				m.logger.Debug("server monitor exited")
				return
			}
		}
	}
}

// throttle waits out the remainder of MinHeartbeatInterval since the last
// probe.  It returns false if the monitor was stopped while waiting.
func (m *ServerMonitor) throttle() bool {
	wait := m.minHeartbeatInterval - time.Since(m.lastProbe)
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *ServerMonitor) check() {
	if !m.state.TryChangeFrom(monitorStateIdle, monitorStateProbing) {
		return
	}

	startTime := time.Now()
	m.lastProbe = startTime

	probeCtx, cancelFn := context.WithTimeout(m.ctx, m.probeTimeout)
	result, err := m.prober.Probe(probeCtx, m.id.Endpoint)
	cancelFn()

	rtt := time.Since(startTime)
	if err == nil && result != nil && result.RoundTripTime > 0 {
		rtt = result.RoundTripTime
	}

	var desc *ServerDescription
	nextState := monitorStateSucceeded
	if err != nil {
		nextState = monitorStateFailed
		m.clearRoundTripTime()

		desc = &ServerDescription{
			ID:            m.id,
			Type:          ServerTypeUnknown,
			State:         ServerStateDisconnected,
			LastHeartbeat: startTime,
			HeartbeatErr:  err,
		}
	} else {
		if result == nil {
			result = &HelloResult{}
		}

		m.updateRoundTripTime(rtt)

		desc = &ServerDescription{
			ID:                   m.id,
			Type:                 result.Type,
			State:                ServerStateConnected,
			AverageRoundTripTime: m.averageRTT,
			LastHeartbeat:        startTime,
			Tags:                 maps.Clone(result.Tags),
			WireVersion:          result.WireVersion,
			ReplicaSetConfig:     result.ReplicaSetConfig,
		}
	}

	// a concurrent Stop wins over a probe which completes afterwards, the
	// result is dropped.
	if !m.state.TryChangeFrom(monitorStateProbing, nextState) {
		return
	}

	m.metrics.RecordHeartbeat(context.Background(), m.id.Endpoint, err, rtt)

	if err != nil {
		m.logger.Debug("server heartbeat failed", zap.Error(err))
	} else {
		m.logger.Debug("server heartbeat succeeded",
			zap.Stringer("type", desc.Type),
			zap.Duration("rtt", rtt),
			zap.Duration("averageRtt", desc.AverageRoundTripTime))
	}

	m.reporter(m, desc)

	m.state.TryChangeFrom(nextState, monitorStateIdle)
}

func (m *ServerMonitor) updateRoundTripTime(sample time.Duration) {
	if !m.hasRTT {
		m.averageRTT = sample
		m.hasRTT = true
		return
	}

	m.averageRTT = time.Duration(rttSmoothing*float64(sample) + (1-rttSmoothing)*float64(m.averageRTT))
}

func (m *ServerMonitor) clearRoundTripTime() {
	m.averageRTT = 0
	m.hasRTT = false
}
