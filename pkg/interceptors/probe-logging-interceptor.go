/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package interceptors

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

type ProbeLoggingInterceptor struct {
	logger *zap.Logger
}

func NewProbeLoggingInterceptor(log *zap.Logger) *ProbeLoggingInterceptor {
	return &ProbeLoggingInterceptor{
		logger: log,
	}
}

func (pli *ProbeLoggingInterceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response interface{}, err error) {
		peerAddr := "unknown"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			peerAddr = p.Addr.String()
		}
		md, _ := metadata.FromIncomingContext(ctx)

		resp, err := handler(ctx, req)

		pli.logger.Debug("probe served",
			zap.String("method", info.FullMethod),
			zap.String("ip", peerAddr),
			zap.Strings("user-agent", md.Get("user-agent")),
			zap.Error(err))

		return resp, err
	}
}
