package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/stellar-topology/contrib/etcdseeds"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/couchbase/stellar-topology/utils/secretsmanager"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/credentials"
)

type config struct {
	logLevelStr        string
	seeds              string
	etcdEndpoints      string
	etcdPrefix         string
	clusterID          string
	user               string
	pass               string
	heartbeatInterval  time.Duration
	probeTimeout       time.Duration
	trustRttHint       bool
	tls                bool
	tlsSkipVerify      bool
	bindAddress        string
	webPort            int
	otlpEndpoint       string
	disableOtlpMetrics bool
	debug              bool
	credsSource        secretsmanager.Source
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:        viper.GetString("log-level"),
		seeds:              viper.GetString("seeds"),
		etcdEndpoints:      viper.GetString("etcd-endpoints"),
		etcdPrefix:         viper.GetString("etcd-prefix"),
		clusterID:          viper.GetString("cluster-id"),
		user:               viper.GetString("user"),
		pass:               viper.GetString("pass"),
		heartbeatInterval:  viper.GetDuration("heartbeat-interval"),
		probeTimeout:       viper.GetDuration("probe-timeout"),
		trustRttHint:       viper.GetBool("trust-rtt-hint"),
		tls:                viper.GetBool("tls"),
		tlsSkipVerify:      viper.GetBool("tls-skip-verify"),
		bindAddress:        viper.GetString("bind-address"),
		webPort:            viper.GetInt("web-port"),
		otlpEndpoint:       viper.GetString("otlp-endpoint"),
		disableOtlpMetrics: viper.GetBool("disable-otlp-metrics"),
		debug:              viper.GetBool("debug"),
		credsSource: secretsmanager.Source{
			AwsSecretID:   viper.GetString("creds-aws-id"),
			AwsRegion:     viper.GetString("creds-aws-region"),
			AzureSecretID: viper.GetString("creds-azure-id"),
			AzureVault:    viper.GetString("creds-azure-vault"),
			GcpSecretID:   viper.GetString("creds-gcp-id"),
			GcpProject:    viper.GetString("creds-gcp-project"),
		},
	}

	logger.Info("parsed topowatch configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("seeds", config.seeds),
		zap.String("etcdEndpoints", config.etcdEndpoints),
		zap.String("etcdPrefix", config.etcdPrefix),
		zap.String("clusterId", config.clusterID),
		zap.String("user", config.user),
		zap.Duration("heartbeatInterval", config.heartbeatInterval),
		zap.Duration("probeTimeout", config.probeTimeout),
		zap.Bool("trustRttHint", config.trustRttHint),
		zap.Bool("tls", config.tls),
		zap.Bool("tlsSkipVerify", config.tlsSkipVerify),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("debug", config.debug),
		zap.String("credsAwsId", config.credsSource.AwsSecretID),
		zap.String("credsAzureId", config.credsSource.AzureSecretID),
		zap.String("credsGcpId", config.credsSource.GcpSecretID))

	return config
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	parsedLogLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		return zapcore.InfoLevel
	}
	return parsedLogLevel
}

// resolveCredentials replaces the user and password with the ones held in a
// cloud secret store when one is configured.
func resolveCredentials(ctx context.Context, logger *zap.Logger, config *config) error {
	if !config.credsSource.IsConfigured() {
		return nil
	}

	if config.user != "" || config.pass != "" {
		return errors.New("cannot use user or pass when fetching creds from cloud provider")
	}

	src := config.credsSource
	if src.AwsSecretID != "" && src.AwsRegion == "" {
		return errors.New("must specify region and id when fetching secrets from aws")
	}
	if src.AzureSecretID != "" && src.AzureVault == "" {
		return errors.New("must specify key vault name and id when fetching secrets from azure")
	}
	if src.GcpSecretID != "" && src.GcpProject == "" {
		return errors.New("must specify project and secret ids when fetching secrets from gcp")
	}

	logger.Info("fetching probe credentials from secret store")
	creds, err := src.Fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch probe credentials")
	}

	config.user = creds.Username
	config.pass = creds.Password
	return nil
}

// resolveSeedList builds the seed list from the connection string, or from
// the etcd registry when no connection string was given.
func resolveSeedList(ctx context.Context, logger *zap.Logger, config *config) (*topology.SeedList, error) {
	if config.seeds != "" {
		return topology.ParseSeedList(config.seeds)
	}

	if config.etcdEndpoints == "" {
		return nil, errors.New("one of seeds or etcd-endpoints must be specified")
	}

	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   strings.Split(config.etcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to etcd")
	}
	defer etcdClient.Close()

	registry, err := etcdseeds.NewRegistry(etcdseeds.RegistryOptions{
		Logger:     logger.Named("etcdseeds"),
		EtcdClient: etcdClient,
		KeyPrefix:  config.etcdPrefix,
	})
	if err != nil {
		return nil, err
	}

	endpoints, err := registry.Resolve(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve seeds from etcd")
	}

	logger.Info("resolved seeds from etcd", zap.Strings("seeds", endpoints))

	return &topology.SeedList{Seeds: endpoints}, nil
}

func newClusterOptions(logger *zap.Logger, config *config, seedList *topology.SeedList, prober topology.Prober) *topology.ClusterOptions {
	opts := &topology.ClusterOptions{
		Logger:       logger.Named("cluster"),
		ClusterID:    config.clusterID,
		Prober:       prober,
		ProbeTimeout: config.probeTimeout,
	}
	seedList.ApplyTo(opts)

	// an explicit flag beats the connection string option
	if config.heartbeatInterval > 0 {
		opts.HeartbeatInterval = config.heartbeatInterval
	}

	return opts
}

// transportCredentials returns nil for plain text, which the prober treats as
// an insecure transport.
func transportCredentials(config *config) credentials.TransportCredentials {
	if !config.tls {
		return nil
	}

	return credentials.NewTLS(&tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.tlsSkipVerify,
	})
}

// parseTagSet parses `k=v,k=v`.  An empty string is the empty tag set, which
// matches every server.
func parseTagSet(s string) (map[string]string, error) {
	tagSet := make(map[string]string)
	if s == "" {
		return tagSet, nil
	}

	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", pair)
		}
		tagSet[key] = value
	}

	return tagSet, nil
}
