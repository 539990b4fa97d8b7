package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/couchbase/stellar-topology/contrib/grpcprober"
	"github.com/couchbase/stellar-topology/pkg/webapi"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitors the cluster and logs every new description",
	Run: func(cmd *cobra.Command, args []string) {
		startWatch()
	},
}

type app struct {
	logLevel      zap.AtomicLevel
	logger        *zap.Logger
	config        *config
	meterProvider *sdkmetric.MeterProvider
	prober        *grpcprober.Prober
	cluster       *topology.Cluster
}

// startApp performs the setup shared by every command.  Failures are fatal.
func startApp(ctx context.Context, command string) *app {
	logLevel, logger := getLogger()

	logger.Info("starting topowatch",
		zap.String("version", buildVersion),
		zap.String("command", command))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)
	logLevel.SetLevel(parseLogLevel(logger, config.logLevelStr))

	meterProvider, err := initTelemetry(ctx, logger, config.otlpEndpoint, !config.disableOtlpMetrics)
	if err != nil {
		logger.Error("failed to initialize opentelemetry metrics", zap.Error(err))
		os.Exit(1)
	}
	otel.SetMeterProvider(meterProvider)

	err = resolveCredentials(ctx, logger, config)
	if err != nil {
		logger.Error("failed to resolve probe credentials", zap.Error(err))
		os.Exit(1)
	}

	seedList, err := resolveSeedList(ctx, logger, config)
	if err != nil {
		logger.Error("failed to resolve the seed list", zap.Error(err))
		os.Exit(1)
	}

	prober, err := grpcprober.NewProber(&grpcprober.ProberOptions{
		Logger:       logger.Named("prober"),
		Username:     config.user,
		Password:     config.pass,
		TrustRttHint: config.trustRttHint,

		TransportCredentials: transportCredentials(config),
	})
	if err != nil {
		logger.Error("failed to create the prober", zap.Error(err))
		os.Exit(1)
	}

	cluster, err := topology.NewCluster(newClusterOptions(logger, config, seedList, prober))
	if err != nil {
		logger.Error("failed to create the cluster", zap.Error(err))
		os.Exit(1)
	}

	err = cluster.Initialize()
	if err != nil {
		logger.Error("failed to initialize the cluster", zap.Error(err))
		os.Exit(1)
	}

	return &app{
		logLevel:      logLevel,
		logger:        logger,
		config:        config,
		meterProvider: meterProvider,
		prober:        prober,
		cluster:       cluster,
	}
}

func (a *app) Close() {
	a.cluster.Dispose()

	err := a.prober.Close()
	if err != nil {
		a.logger.Debug("failed to close prober connections", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.meterProvider.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Warn("failed to shutdown meter provider", zap.Error(err))
	}
}

func startWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startApp(ctx, "watch")
	logger := a.logger

	var webServer *webapi.WebServer
	if a.config.webPort != -1 {
		webServer = webapi.InitializeWebServer(webapi.WebServerOptions{
			Logger:        logger.Named("webapi"),
			LogLevel:      &a.logLevel,
			ListenAddress: fmt.Sprintf("%s:%v", a.config.bindAddress, a.config.webPort),
			Cluster:       a.cluster,
			Debug:         a.config.debug,
		})
	}

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file",
				zap.Error(err))
		}

		newConfig := readConfig(logger)
		config := a.config

		if newConfig.seeds != config.seeds ||
			newConfig.etcdEndpoints != config.etcdEndpoints ||
			newConfig.etcdPrefix != config.etcdPrefix ||
			newConfig.clusterID != config.clusterID {
			logger.Warn("config changes for seeds, etcdEndpoints, etcdPrefix, or clusterId require a restart")
		}

		if newConfig.user != config.user ||
			newConfig.pass != config.pass ||
			newConfig.credsSource != config.credsSource {
			logger.Warn("config changes for probe credentials require a restart")
		}

		if newConfig.heartbeatInterval != config.heartbeatInterval ||
			newConfig.probeTimeout != config.probeTimeout ||
			newConfig.trustRttHint != config.trustRttHint ||
			newConfig.tls != config.tls ||
			newConfig.tlsSkipVerify != config.tlsSkipVerify {
			logger.Warn("config changes for heartbeatInterval, probeTimeout, trustRttHint, or tls require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort {
			logger.Warn("config changes for bindAddress or webPort require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics {
			logger.Warn("config changes for otlpEndpoint or disableOtlpMetrics require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel := parseLogLevel(logger, newConfig.logLevelStr)
			a.logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		// credentials fetched from a secret store are kept
		newConfig.user = config.user
		newConfig.pass = config.pass
		a.config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					cancel()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				cancel()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	sub := a.cluster.Subscribe()
	watchDescriptions(ctx, logger, sub)
	sub.Unsubscribe()

	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := webServer.Shutdown(shutdownCtx)
		shutdownCancel()
		if err != nil {
			logger.Warn("failed to shutdown web server", zap.Error(err))
		}
	}

	a.Close()

	logger.Info("topowatch shutdown gracefully")
}

// watchDescriptions logs every description delivered to the subscription
// until the context is cancelled or the cluster is disposed.
func watchDescriptions(ctx context.Context, logger *zap.Logger, sub *topology.Subscription) {
	for {
		select {
		case desc, ok := <-sub.C():
			if !ok {
				return
			}

			logger.Info("cluster description",
				zap.Uint64("revision", desc.Revision),
				zap.Object("cluster", desc))
		case <-ctx.Done():
			return
		}
	}
}
