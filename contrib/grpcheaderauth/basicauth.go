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
	"crypto/subtle"

	"github.com/couchbase/stellar-topology/utils/authhdr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationKey = "authorization"

type GrpcBasicAuth struct {
	EncodedData string
}

var _ credentials.PerRPCCredentials = GrpcBasicAuth{}

// NewGrpcBasicAuth creates PerRPCCredentials which send a Basic
// authorization header with every request.
func NewGrpcBasicAuth(username, password string) (credentials.PerRPCCredentials, error) {
	return GrpcBasicAuth{authhdr.EncodeBasicAuth(username, password)}, nil
}

func (j GrpcBasicAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		authorizationKey: j.EncodedData,
	}, nil
}

func (j GrpcBasicAuth) RequireTransportSecurity() bool {
	return false
}

// CheckBasicAuth validates the Basic authorization header of an incoming
// request against the expected credentials, returning an Unauthenticated
// status error on mismatch.
func CheckBasicAuth(ctx context.Context, username, password string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing request metadata")
	}

	authHdrs := md.Get(authorizationKey)
	if len(authHdrs) != 1 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}

	user, pass, ok := authhdr.DecodeBasicAuth(authHdrs[0])
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid authorization header")
	}

	userOk := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
	passOk := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
	if !userOk || !passOk {
		return status.Error(codes.Unauthenticated, "invalid credentials")
	}

	return nil
}
