/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package grpcprober probes servers with the gRPC health checking protocol,
// reading the role each server advertises in the response headers.
package grpcprober

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/stellar-topology/contrib/grpcheaderauth"
	"github.com/couchbase/stellar-topology/contrib/rolehealth"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/timeout"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

var ErrNotServing = errors.New("server is not serving")
var ErrNotConnected = errors.New("server is not connected")

type ProberOptions struct {
	Logger *zap.Logger

	// Username and Password are sent as basic auth with every probe when
	// Username is set.
	Username string
	Password string

	// TransportCredentials defaults to an insecure transport.
	TransportCredentials credentials.TransportCredentials

	// CallTimeout bounds each probe in addition to the monitor's deadline.
	CallTimeout time.Duration

	// TrustRttHint makes the prober report the round-trip time advertised
	// by the server instead of the measured one.
	TrustRttHint bool

	// DialOptions are appended to the prober's own options.
	DialOptions []grpc.DialOption
}

// Prober keeps one client connection per endpoint and reuses it for every
// probe of that endpoint until it is released.
type Prober struct {
	logger       *zap.Logger
	dialOpts     []grpc.DialOption
	trustRttHint bool

	lock  sync.Mutex
	conns map[string]*grpc.ClientConn
}

var _ topology.Prober = (*Prober)(nil)
var _ topology.EndpointReleaser = (*Prober)(nil)

func NewProber(opts *ProberOptions) (*Prober, error) {
	if opts == nil {
		opts = &ProberOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transportCreds := opts.TransportCredentials
	if transportCreds == nil {
		transportCreds = insecure.NewCredentials()
	}

	unaryInterceptors := []grpc.UnaryClientInterceptor{
		logging.UnaryClientInterceptor(interceptorLogger(logger),
			logging.WithLogOnEvents(logging.FinishCall)),
	}
	if opts.CallTimeout > 0 {
		unaryInterceptors = append(unaryInterceptors, timeout.UnaryClientInterceptor(opts.CallTimeout))
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(transportCreds),
		grpc.WithChainUnaryInterceptor(unaryInterceptors...),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}

	if opts.Username != "" {
		basicAuthCreds, err := grpcheaderauth.NewGrpcBasicAuth(opts.Username, opts.Password)
		if err != nil {
			return nil, err
		}
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(basicAuthCreds))
	}

	dialOpts = append(dialOpts, opts.DialOptions...)

	return &Prober{
		logger:       logger,
		dialOpts:     dialOpts,
		trustRttHint: opts.TrustRttHint,
		conns:        make(map[string]*grpc.ClientConn),
	}, nil
}

func (p *Prober) getConn(endpoint string) (*grpc.ClientConn, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if conn, ok := p.conns[endpoint]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient("passthrough:///"+endpoint, p.dialOpts...)
	if err != nil {
		return nil, err
	}

	p.conns[endpoint] = conn
	return conn, nil
}

func (p *Prober) Probe(ctx context.Context, endpoint string) (*topology.HelloResult, error) {
	conn, err := p.getConn(endpoint)
	if err != nil {
		return nil, err
	}

	// connection setup must not count towards the round-trip time
	err = waitForReady(ctx, conn)
	if err != nil {
		return nil, err
	}

	var header metadata.MD
	startTime := time.Now()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx,
		&grpc_health_v1.HealthCheckRequest{},
		grpc.Header(&header))
	rtt := time.Since(startTime)
	if err != nil {
		return nil, err
	}

	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return nil, fmt.Errorf("%w: %s", ErrNotServing, resp.Status)
	}

	result, err := rolehealth.DecodeHello(header, p.trustRttHint)
	if err != nil {
		return nil, fmt.Errorf("invalid probe response from %s: %w", endpoint, err)
	}

	if result.RoundTripTime <= 0 {
		result.RoundTripTime = rtt
	}

	return result, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()

	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("%w: connection is %s", ErrNotConnected, state)
		}

		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
		}
	}
}

// Release closes the connection to an endpoint which is no longer monitored.
func (p *Prober) Release(endpoint string) {
	p.lock.Lock()
	conn, ok := p.conns[endpoint]
	delete(p.conns, endpoint)
	p.lock.Unlock()

	if !ok {
		return
	}

	err := conn.Close()
	if err != nil {
		p.logger.Debug("failed to close probe connection",
			zap.String("endpoint", endpoint),
			zap.Error(err))
	}
}

// Close releases every connection.
func (p *Prober) Close() error {
	p.lock.Lock()
	conns := p.conns
	p.conns = make(map[string]*grpc.ClientConn)
	p.lock.Unlock()

	var errs []error
	for _, conn := range conns {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

// interceptorLogger adapts zap to the grpc middleware logger.
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)

		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}

			switch v := fields[i+1].(type) {
			case string:
				f = append(f, zap.String(key, v))
			case int:
				f = append(f, zap.Int(key, v))
			case bool:
				f = append(f, zap.Bool(key, v))
			default:
				f = append(f, zap.Any(key, v))
			}
		}

		// failed probes are routine and retried, so the middleware's
		// levels are all flattened to debug.
		l.WithOptions(zap.AddCallerSkip(1)).Debug(msg, f...)
	})
}
