/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package grpcheaderauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestBasicAuthRoundTrip(t *testing.T) {
	creds, err := NewGrpcBasicAuth("monitor", "s3cret")
	require.NoError(t, err)

	md, err := creds.GetRequestMetadata(context.Background())
	require.NoError(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(md))
	require.NoError(t, CheckBasicAuth(ctx, "monitor", "s3cret"))

	err = CheckBasicAuth(ctx, "monitor", "wrong")
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestCheckBasicAuthRejects(t *testing.T) {
	testCases := []struct {
		name string
		ctx  context.Context
	}{
		{"NoMetadata", context.Background()},
		{"NoHeader", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-other", "1"))},
		{"BadScheme", metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc"))},
		{"BadEncoding", metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic !!!"))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckBasicAuth(tc.ctx, "monitor", "s3cret")
			require.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
}
