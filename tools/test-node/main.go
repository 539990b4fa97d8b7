package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/couchbase/stellar-topology/contrib/etcdseeds"
	"github.com/couchbase/stellar-topology/contrib/rolehealth"
	"github.com/couchbase/stellar-topology/utils/netutils"
	"github.com/couchbase/stellar-topology/utils/selfsignedcert"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

var (
	addr          = flag.String("addr", "localhost:27017", "the address to listen on")
	advertise     = flag.String("advertise", "", "the endpoint to register in etcd, defaults to addr")
	serverType    = flag.String("type", "Standalone", "the server type to advertise")
	tags          = flag.String("tags", "", "tags to advertise as key=value pairs")
	wireVersion   = flag.String("wire-version", "0-21", "wire version range to advertise as min-max")
	setName       = flag.String("set-name", "", "replica set name to advertise")
	setVersion    = flag.Int64("set-version", 1, "replica set config version to advertise")
	setMembers    = flag.String("set-members", "", "comma separated replica set members to advertise")
	rttHint       = flag.Duration("rtt-hint", 0, "round trip time to advertise")
	username      = flag.String("user", "", "username required from probes")
	password      = flag.String("pass", "", "password required from probes")
	etcdEndpoints = flag.String("etcd-endpoints", "", "comma separated etcd endpoints to register with")
	etcdPrefix    = flag.String("etcd-prefix", "/topology/seeds/", "etcd key prefix to register under")
	selfSign      = flag.Bool("self-sign", false, "serve tls with a generated self-signed certificate")
)

// roleMetadata renders the flags the same way the role is sent over the
// wire, so that the flags can be validated by the protocol decoder.
func roleMetadata() metadata.MD {
	md := metadata.MD{}
	md.Set(rolehealth.ServerTypeKey, *serverType)
	if *tags != "" {
		md.Set(rolehealth.TagsKey, *tags)
	}
	if *wireVersion != "" {
		md.Set(rolehealth.WireVersionKey, *wireVersion)
	}
	if *setName != "" {
		md.Set(rolehealth.SetNameKey, *setName)
		md.Set(rolehealth.SetVersionKey, strconv.FormatInt(*setVersion, 10))
		md.Set(rolehealth.SetMembersKey, *setMembers)
	}
	if *rttHint > 0 {
		md.Set(rolehealth.RttHintKey, rttHint.String())
	}
	return md
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	role, err := rolehealth.DecodeHello(roleMetadata(), true)
	if err != nil {
		logger.Fatal("invalid role flags", zap.Error(err))
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	roleServer := rolehealth.NewServer(&rolehealth.ServerOptions{
		Logger:   logger.Named("rolehealth"),
		Username: *username,
		Password: *password,
		Role:     role,
	})

	serverOpts := roleServer.GrpcServerOptions()
	if *selfSign {
		cert, err := selfsignedcert.GenerateCertificate(certHosts(lis.Addr().String())...)
		if err != nil {
			logger.Fatal("failed to generate a self-signed certificate", zap.Error(err))
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewServerTLSFromCert(cert)))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	roleServer.Register(grpcServer)

	var registration *etcdseeds.Registration
	if *etcdEndpoints != "" {
		registration = register(logger, lis.Addr().String())
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

		serving := true
		for sig := range sigCh {
			if sig == syscall.SIGUSR1 {
				serving = !serving
				logger.Info("toggling serving status", zap.Bool("serving", serving))
				roleServer.SetServing(serving)
				continue
			}

			logger.Info("shutting down test node")
			if registration != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := registration.Deregister(ctx)
				cancel()
				if err != nil {
					logger.Warn("failed to deregister from etcd", zap.Error(err))
				}
			}
			roleServer.Shutdown()
			grpcServer.GracefulStop()
			return
		}
	}()

	logger.Info("test node listening",
		zap.String("address", lis.Addr().String()),
		zap.String("type", role.Type.String()))

	err = grpcServer.Serve(lis)
	if err != nil {
		logger.Fatal("failed to serve", zap.Error(err))
	}
}

// certHosts lists the names a self-signed certificate must cover.
func certHosts(listenAddr string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	for _, endpoint := range []string{*advertise, listenAddr} {
		host, _, err := net.SplitHostPort(endpoint)
		if err == nil && host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func register(logger *zap.Logger, listenAddr string) *etcdseeds.Registration {
	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   strings.Split(*etcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to etcd", zap.Error(err))
	}

	registry, err := etcdseeds.NewRegistry(etcdseeds.RegistryOptions{
		Logger:     logger.Named("etcdseeds"),
		EtcdClient: etcdClient,
		KeyPrefix:  *etcdPrefix,
	})
	if err != nil {
		logger.Fatal("failed to create seed registry", zap.Error(err))
	}

	endpoint := *advertise
	if endpoint == "" {
		host, port, err := net.SplitHostPort(listenAddr)
		if err != nil {
			logger.Fatal("failed to parse listen address", zap.Error(err))
		}

		advertiseHost, err := netutils.GetAdvertiseAddress(host)
		if err != nil {
			logger.Fatal("failed to determine advertise address", zap.Error(err))
		}

		endpoint = net.JoinHostPort(advertiseHost, port)
	}

	registration, err := registry.Register(context.Background(), &etcdseeds.RegisterOptions{
		Endpoint: endpoint,
	})
	if err != nil {
		logger.Fatal("failed to register in etcd", zap.Error(err))
	}

	logger.Info("registered in etcd", zap.String("key", registration.Key()))

	return registration
}
