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

	"github.com/couchbase/stellar-topology/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type MetricsInterceptor struct {
	metrics *metrics.NodeMetrics
}

func NewMetricsInterceptor(metrics *metrics.NodeMetrics) *MetricsInterceptor {
	return &MetricsInterceptor{
		metrics: metrics,
	}
}

func (mi *MetricsInterceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response interface{}, err error) {
		mi.metrics.ActiveProbes.Add(ctx, 1)

		resp, err := handler(ctx, req)

		mi.metrics.ActiveProbes.Add(ctx, -1)
		mi.metrics.RecordProbeServed(ctx, status.Code(err).String())

		return resp, err
	}
}
