/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package rolehealth

import (
	"context"
	"sync"

	"github.com/couchbase/stellar-topology/contrib/grpcheaderauth"
	"github.com/couchbase/stellar-topology/pkg/interceptors"
	"github.com/couchbase/stellar-topology/pkg/metrics"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type ServerOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.NodeMetrics

	// Username and Password, when set, are required from every probe.
	Username string
	Password string

	Role *topology.HelloResult
}

// Server answers probes with the role it was configured with.  The role and
// serving status can be changed at any time, which makes it convenient for
// simulating failovers.
type Server struct {
	logger   *zap.Logger
	metrics  *metrics.NodeMetrics
	username string
	password string
	health   *health.Server

	lock sync.Mutex
	role *topology.HelloResult
}

func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	nodeMetrics := opts.Metrics
	if nodeMetrics == nil {
		nodeMetrics = metrics.GetNodeMetrics()
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		logger:   logger,
		metrics:  nodeMetrics,
		username: opts.Username,
		password: opts.Password,
		health:   healthServer,
		role:     opts.Role,
	}
}

func (s *Server) SetRole(role *topology.HelloResult) {
	s.lock.Lock()
	s.role = role
	s.lock.Unlock()

	if role != nil {
		s.logger.Info("role changed", zap.Stringer("type", role.Type))
	}
}

func (s *Server) Role() *topology.HelloResult {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.role
}

// SetServing switches between answering probes as SERVING and NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	servingStatus := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		servingStatus = grpc_health_v1.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", servingStatus)
}

// Register adds the health service to a grpc server built with
// GrpcServerOptions.
func (s *Server) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, s.health)
}

// Shutdown marks the node as not serving, any watchers are notified.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// UnaryInterceptor authenticates health checks and attaches the role header
// to their responses.
func (s *Server) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod != grpc_health_v1.Health_Check_FullMethodName {
			return handler(ctx, req)
		}

		if s.username != "" {
			err := grpcheaderauth.CheckBasicAuth(ctx, s.username, s.password)
			if err != nil {
				return nil, err
			}
		}

		err := grpc.SetHeader(ctx, EncodeHello(s.Role()))
		if err != nil {
			s.logger.Debug("failed to set role header", zap.Error(err))
		}

		return handler(ctx, req)
	}
}

func (s *Server) GrpcServerOptions() []grpc.ServerOption {
	recoveryHandler := func(p any) (err error) {
		s.logger.Error("a panic has been triggered", zap.Any("error: ", p))
		return status.Errorf(codes.Internal, "An internal error occurred.")
	}

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptors.NewMetricsInterceptor(s.metrics).UnaryInterceptor(),
			interceptors.NewProbeLoggingInterceptor(s.logger.Named("grpc-debug")).UnaryInterceptor(),
			s.UnaryInterceptor(),
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler)),
		),
	}
}
