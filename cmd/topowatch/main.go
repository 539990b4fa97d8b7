package main

import (
	"context"
	"os"
	"strings"

	"github.com/couchbase/stellar-topology/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var buildVersion string = version.GetVersion(version.ModulePath)

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "topowatch",
	Short: "Monitors the topology of a database deployment",
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.PersistentFlags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("seeds", "", "connection string listing the seed servers")
	configFlags.String("etcd-endpoints", "", "comma separated etcd endpoints to resolve seeds from")
	configFlags.String("etcd-prefix", "/topology/seeds/", "etcd key prefix the seed servers register under")
	configFlags.String("cluster-id", "", "identifier for the monitored cluster")
	configFlags.String("user", "", "the username to authenticate probes with")
	configFlags.String("pass", "", "the password to authenticate probes with")
	configFlags.Duration("heartbeat-interval", 0, "interval between probes of each server")
	configFlags.Duration("probe-timeout", 0, "timeout applied to each probe")
	configFlags.Bool("trust-rtt-hint", false, "use the round-trip time advertised by servers")
	configFlags.Bool("tls", false, "probe servers over tls")
	configFlags.Bool("tls-skip-verify", false, "skip verification of server certificates")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9092, "the web metrics/health port, -1 to disable")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send metrics to")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("debug", false, "enable debug mode")
	configFlags.String("creds-aws-id", "", "id of secret in aws sm storing probe credentials")
	configFlags.String("creds-aws-region", "", "region of creds-aws-id secret")
	configFlags.String("creds-azure-id", "", "id of secret in azure kv storing probe credentials")
	configFlags.String("creds-azure-vault", "", "name of key vault storing creds-azure-id")
	configFlags.String("creds-gcp-id", "", "id of secret in gcp sm storing probe credentials")
	configFlags.String("creds-gcp-project", "", "id of project containing creds-gcp-id")
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("topo")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(selectCmd)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableMetrics bool,
) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("stellar-topology"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	if !enableMetrics || otlpEndpoint == "" {
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		), nil
	}

	metricExp, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(otlpEndpoint))
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	), nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stderr), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
