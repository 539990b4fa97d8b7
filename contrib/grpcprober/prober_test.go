/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package grpcprober

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/couchbase/stellar-topology/contrib/rolehealth"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/couchbase/stellar-topology/utils/selfsignedcert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type testNode struct {
	role     *rolehealth.Server
	listener *bufconn.Listener
}

func startTestNode(t *testing.T, opts *rolehealth.ServerOptions) *testNode {
	listener := bufconn.Listen(1024 * 1024)

	roleServer := rolehealth.NewServer(opts)
	grpcServer := grpc.NewServer(roleServer.GrpcServerOptions()...)
	roleServer.Register(grpcServer)

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	t.Cleanup(func() {
		grpcServer.Stop()
	})

	return &testNode{
		role:     roleServer,
		listener: listener,
	}
}

// newTestProber dials every endpoint through the in-memory listeners.
func newTestProber(t *testing.T, nodes map[string]*testNode, username, password string) *Prober {
	prober, err := NewProber(&ProberOptions{
		Logger:      zaptest.NewLogger(t),
		Username:    username,
		Password:    password,
		CallTimeout: time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
				node, ok := nodes[addr]
				if !ok {
					return nil, &net.OpError{Op: "dial", Net: "bufconn", Err: net.ErrClosed}
				}
				return node.listener.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = prober.Close()
	})

	return prober
}

func TestProbeReadsRole(t *testing.T) {
	role := &topology.HelloResult{
		Type:        topology.ServerTypeReplicaSetPrimary,
		Tags:        map[string]string{"dc": "east"},
		WireVersion: &topology.WireVersionRange{Min: 6, Max: 21},
		ReplicaSetConfig: &topology.ReplicaSetConfig{
			Name:    "rs0",
			Version: 2,
			Members: []string{"a:1", "b:1"},
		},
	}
	nodes := map[string]*testNode{
		"a:1": startTestNode(t, &rolehealth.ServerOptions{Role: role}),
	}
	prober := newTestProber(t, nodes, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := prober.Probe(ctx, "a:1")
	require.NoError(t, err)
	require.Positive(t, result.RoundTripTime)
	result.RoundTripTime = 0
	require.Equal(t, role, result)

	// role changes are visible on the next probe over the same connection
	nodes["a:1"].role.SetRole(&topology.HelloResult{Type: topology.ServerTypeReplicaSetSecondary})
	result, err = prober.Probe(ctx, "a:1")
	require.NoError(t, err)
	require.Equal(t, topology.ServerTypeReplicaSetSecondary, result.Type)
}

func TestProbeNotServing(t *testing.T) {
	nodes := map[string]*testNode{
		"a:1": startTestNode(t, &rolehealth.ServerOptions{
			Role: &topology.HelloResult{Type: topology.ServerTypeStandalone},
		}),
	}
	nodes["a:1"].role.SetServing(false)

	prober := newTestProber(t, nodes, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := prober.Probe(ctx, "a:1")
	require.ErrorIs(t, err, ErrNotServing)
}

func TestProbeRoundTripExcludesDial(t *testing.T) {
	const dialDelay = 200 * time.Millisecond

	node := startTestNode(t, &rolehealth.ServerOptions{
		Role: &topology.HelloResult{Type: topology.ServerTypeStandalone},
	})

	prober, err := NewProber(&ProberOptions{
		Logger: zaptest.NewLogger(t),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
				select {
				case <-time.After(dialDelay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return node.listener.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = prober.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	startTime := time.Now()
	result, err := prober.Probe(ctx, "a:1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(startTime), dialDelay)

	require.Positive(t, result.RoundTripTime)
	require.Less(t, result.RoundTripTime, dialDelay)
}

func TestProbeUnreachable(t *testing.T) {
	prober := newTestProber(t, map[string]*testNode{}, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := prober.Probe(ctx, "a:1")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestProbeAuthentication(t *testing.T) {
	nodes := map[string]*testNode{
		"a:1": startTestNode(t, &rolehealth.ServerOptions{
			Username: "monitor",
			Password: "s3cret",
			Role:     &topology.HelloResult{Type: topology.ServerTypeStandalone},
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newTestProber(t, nodes, "", "").Probe(ctx, "a:1")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = newTestProber(t, nodes, "monitor", "wrong").Probe(ctx, "a:1")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	result, err := newTestProber(t, nodes, "monitor", "s3cret").Probe(ctx, "a:1")
	require.NoError(t, err)
	require.Equal(t, topology.ServerTypeStandalone, result.Type)
}

func TestProbeReleaseReconnects(t *testing.T) {
	nodes := map[string]*testNode{
		"a:1": startTestNode(t, &rolehealth.ServerOptions{
			Role: &topology.HelloResult{Type: topology.ServerTypeStandalone},
		}),
	}
	prober := newTestProber(t, nodes, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := prober.Probe(ctx, "a:1")
	require.NoError(t, err)

	prober.Release("a:1")
	prober.Release("a:1")

	_, err = prober.Probe(ctx, "a:1")
	require.NoError(t, err)
}

func TestClusterOverGrpc(t *testing.T) {
	config := &topology.ReplicaSetConfig{
		Name:    "rs0",
		Version: 1,
		Members: []string{"a:1", "b:1"},
	}
	nodes := map[string]*testNode{
		"a:1": startTestNode(t, &rolehealth.ServerOptions{
			Role: &topology.HelloResult{Type: topology.ServerTypeReplicaSetPrimary, ReplicaSetConfig: config},
		}),
		"b:1": startTestNode(t, &rolehealth.ServerOptions{
			Role: &topology.HelloResult{Type: topology.ServerTypeReplicaSetSecondary, ReplicaSetConfig: config},
		}),
	}
	prober := newTestProber(t, nodes, "", "")

	cluster, err := topology.NewCluster(&topology.ClusterOptions{
		Logger:               zaptest.NewLogger(t),
		Seeds:                []string{"a:1"},
		ReplicaSetName:       "rs0",
		Prober:               prober,
		HeartbeatInterval:    50 * time.Millisecond,
		MinHeartbeatInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer cluster.Dispose()

	require.NoError(t, cluster.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	primary, err := cluster.SelectServer(ctx, topology.WriteSelector, time.Now().Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "a:1", primary.ID.Endpoint)

	secondary, err := cluster.SelectServer(ctx,
		topology.ReadPreferenceSelector(topology.ReadPreferenceSecondary),
		time.Now().Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "b:1", secondary.ID.Endpoint)

	// a failover is picked up by the monitors
	nodes["a:1"].role.SetRole(&topology.HelloResult{Type: topology.ServerTypeReplicaSetSecondary, ReplicaSetConfig: config})
	nodes["b:1"].role.SetRole(&topology.HelloResult{Type: topology.ServerTypeReplicaSetPrimary, ReplicaSetConfig: config})
	cluster.RequestHeartbeat("a:1")
	cluster.RequestHeartbeat("b:1")

	require.Eventually(t, func() bool {
		desc := cluster.CurrentDescription()
		server := desc.Server("b:1")
		return server != nil && server.Type == topology.ServerTypeReplicaSetPrimary
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProbeOverTls(t *testing.T) {
	cert, err := selfsignedcert.GenerateCertificate("a")
	require.NoError(t, err)
	pool, err := selfsignedcert.CertPool(cert)
	require.NoError(t, err)

	listener := bufconn.Listen(1024 * 1024)
	roleServer := rolehealth.NewServer(&rolehealth.ServerOptions{
		Role: &topology.HelloResult{Type: topology.ServerTypeStandalone},
	})
	serverOpts := append(roleServer.GrpcServerOptions(),
		grpc.Creds(credentials.NewServerTLSFromCert(cert)))
	grpcServer := grpc.NewServer(serverOpts...)
	roleServer.Register(grpcServer)
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	t.Cleanup(grpcServer.Stop)

	prober, err := NewProber(&ProberOptions{
		Logger:               zaptest.NewLogger(t),
		TransportCredentials: credentials.NewTLS(&tls.Config{RootCAs: pool}),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = prober.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := prober.Probe(ctx, "a:1")
	require.NoError(t, err)
	require.Equal(t, topology.ServerTypeStandalone, result.Type)
}
