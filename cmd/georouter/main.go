/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/couchbase/gocbcorex/contrib/buildversion"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"

	"github.com/couchbase/stellar-georouter/common/accounttopology"
	"github.com/couchbase/stellar-georouter/contrib/accountconfig"
	"github.com/couchbase/stellar-georouter/endpointmanager"
	"github.com/couchbase/stellar-georouter/georouter"
	"github.com/couchbase/stellar-georouter/pkg/endpointpool"
	"github.com/couchbase/stellar-georouter/pkg/webapi"
)

var buildVersion string = buildversion.GetVersion("github.com/couchbase/stellar-georouter")

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "stellar-georouter",
	Short: "A service which routes requests across the regions of a geo-replicated database account",

	Run: func(cmd *cobra.Command, args []string) {
		startRouter()
	},
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("default-endpoint", "", "the global endpoint of the database account")
	configFlags.StringSlice("preferred-locations", nil, "the regions to prefer, most preferred first")
	configFlags.Bool("disable-endpoint-discovery", false, "always route to the default endpoint")
	configFlags.Bool("use-multiple-write-locations", false, "allow writes to any write region of a multi-write account")
	configFlags.Int("connection-limit", endpointpool.DefaultConnectionLimit, "the maximum number of connections per regional endpoint")
	configFlags.Duration("unavailable-locations-expiration", georouter.DefaultUnavailableLocationsExpirationTime, "how long a failed endpoint stays deprioritized")
	configFlags.Duration("account-poll-interval", accounttopology.DefaultPollInterval, "how often to poll the account topology")
	configFlags.Duration("background-refresh-interval", endpointmanager.DefaultBackgroundRefreshInterval, "how often to check whether the account topology is stale")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9091, "the web metrics/health/routing port")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("trace-everything", false, "enables tracing of all components")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("sgr")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
	traceEverything bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("stellar-georouter"),
			semconv.ServiceVersionKey.String(buildVersion),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	meterOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	}
	if enableMetrics && otlpEndpoint != "" {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterOpts = append(meterOpts,
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)

	var tracerProvider *sdktrace.TracerProvider
	if enableTraces && otlpEndpoint != "" {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		baseTracing := sdktrace.NeverSample()
		if traceEverything {
			baseTracing = sdktrace.AlwaysSample()
		}

		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(baseTracing)),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
		)
	}

	return tracerProvider, meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead",
			zap.String("logLevel", levelStr))
		return zapcore.InfoLevel
	}
	return level
}

type config struct {
	logLevelStr                    string
	defaultEndpoint                string
	preferredLocations             []string
	disableEndpointDiscovery       bool
	useMultipleWriteLocations      bool
	connectionLimit                int
	unavailableLocationsExpiration time.Duration
	accountPollInterval            time.Duration
	backgroundRefreshInterval      time.Duration
	bindAddress                    string
	webPort                        int
	otlpEndpoint                   string
	disableOtlpTraces              bool
	disableOtlpMetrics             bool
	traceEverything                bool
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:                    viper.GetString("log-level"),
		defaultEndpoint:                viper.GetString("default-endpoint"),
		preferredLocations:             viper.GetStringSlice("preferred-locations"),
		disableEndpointDiscovery:       viper.GetBool("disable-endpoint-discovery"),
		useMultipleWriteLocations:      viper.GetBool("use-multiple-write-locations"),
		connectionLimit:                viper.GetInt("connection-limit"),
		unavailableLocationsExpiration: viper.GetDuration("unavailable-locations-expiration"),
		accountPollInterval:            viper.GetDuration("account-poll-interval"),
		backgroundRefreshInterval:      viper.GetDuration("background-refresh-interval"),
		bindAddress:                    viper.GetString("bind-address"),
		webPort:                        viper.GetInt("web-port"),
		otlpEndpoint:                   viper.GetString("otlp-endpoint"),
		disableOtlpTraces:              viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics:             viper.GetBool("disable-otlp-metrics"),
		traceEverything:                viper.GetBool("trace-everything"),
	}

	logger.Info("parsed georouter configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("defaultEndpoint", config.defaultEndpoint),
		zap.Strings("preferredLocations", config.preferredLocations),
		zap.Bool("disableEndpointDiscovery", config.disableEndpointDiscovery),
		zap.Bool("useMultipleWriteLocations", config.useMultipleWriteLocations),
		zap.Int("connectionLimit", config.connectionLimit),
		zap.Duration("unavailableLocationsExpiration", config.unavailableLocationsExpiration),
		zap.Duration("accountPollInterval", config.accountPollInterval),
		zap.Duration("backgroundRefreshInterval", config.backgroundRefreshInterval),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("traceEverything", config.traceEverything))

	return config
}

func startRouter() {
	// initialize the logger
	logLevel, logger := getLogger()

	logger.Info("starting stellar-georouter", zap.String("version", buildVersion))

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

	if config.defaultEndpoint == "" {
		logger.Error("a default-endpoint must be specified")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// setup tracing
	otlpTracerProvider, meterProvider, err :=
		initTelemetry(ctx,
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics,
			config.traceEverything)
	if err != nil {
		logger.Error("failed to initialize opentelemetry tracing", zap.Error(err))
		os.Exit(1)
	}

	if otlpTracerProvider != nil {
		otel.SetTracerProvider(otlpTracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	otel.SetMeterProvider(meterProvider)

	pool := endpointpool.NewPool(endpointpool.PoolOptions{
		Logger:                 logger.Named("endpointpool"),
		DefaultConnectionLimit: config.connectionLimit,
	})

	router, err := georouter.New(&georouter.RouterOptions{
		Logger:                             logger.Named("router"),
		DefaultEndpoint:                    config.defaultEndpoint,
		PreferredLocations:                 config.preferredLocations,
		DisableEndpointDiscovery:           config.disableEndpointDiscovery,
		UseMultipleWriteLocations:          config.useMultipleWriteLocations,
		ConnectionLimit:                    config.connectionLimit,
		ConnectionLimiter:                  pool,
		UnavailableLocationsExpirationTime: config.unavailableLocationsExpiration,
	})
	if err != nil {
		logger.Error("failed to initialize the router", zap.Error(err))
		os.Exit(1)
	}

	pool.SetConnectionLimit(router.DefaultEndpoint(), config.connectionLimit)

	fetcher, err := accountconfig.NewFetcher(accountconfig.FetcherOptions{
		HttpClient: pool.Client(router.DefaultEndpoint()),
		Endpoint:   router.DefaultEndpoint(),
		Logger:     logger.Named("fetcher"),
	})
	if err != nil {
		logger.Error("failed to initialize the account fetcher", zap.Error(err))
		os.Exit(1)
	}

	provider, err := accounttopology.NewPollingProvider(accounttopology.PollingProviderOptions{
		Logger:       logger.Named("topology"),
		Fetcher:      fetcher,
		PollInterval: config.accountPollInterval,
	})
	if err != nil {
		logger.Error("failed to initialize the topology provider", zap.Error(err))
		os.Exit(1)
	}

	manager, err := endpointmanager.NewManager(endpointmanager.ManagerOptions{
		Logger:                    logger.Named("endpointmanager"),
		Router:                    router,
		Provider:                  provider,
		BackgroundRefreshInterval: config.backgroundRefreshInterval,
	})
	if err != nil {
		logger.Error("failed to initialize the endpoint manager", zap.Error(err))
		os.Exit(1)
	}

	err = manager.Start(ctx)
	if err != nil {
		logger.Error("failed to start the endpoint manager", zap.Error(err))
		os.Exit(1)
	}

	// setup the web service
	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webServer := webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
		Router:        router,
	})

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		if cfgFile != "" {
			err := viper.ReadInConfig()
			if err != nil {
				logger.Warn("failed to parse configuration file",
					zap.Error(err))
			}
		}

		newConfig := readConfig(logger)

		if newConfig.defaultEndpoint != config.defaultEndpoint ||
			newConfig.disableEndpointDiscovery != config.disableEndpointDiscovery ||
			newConfig.useMultipleWriteLocations != config.useMultipleWriteLocations {
			logger.Warn("config changes for defaultEndpoint, disableEndpointDiscovery, or useMultipleWriteLocations require a restart")
		}

		if newConfig.connectionLimit != config.connectionLimit ||
			newConfig.unavailableLocationsExpiration != config.unavailableLocationsExpiration ||
			newConfig.accountPollInterval != config.accountPollInterval ||
			newConfig.backgroundRefreshInterval != config.backgroundRefreshInterval {
			logger.Warn("config changes for connectionLimit, unavailableLocationsExpiration, accountPollInterval, or backgroundRefreshInterval require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort {
			logger.Warn("config changes for bindAddress or webPort require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpTraces != config.disableOtlpTraces ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics ||
			newConfig.traceEverything != config.traceEverything {
			logger.Warn("config changes for otlpEndpoint, disableOtlpTraces, disableOtlpMetrics, or traceEverything require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel := parseLogLevel(logger, newConfig.logLevelStr)
			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		if !slices.Equal(newConfig.preferredLocations, config.preferredLocations) {
			router.OnLocationPreferenceChanged(newConfig.preferredLocations)

			logger.Info("updated preferred locations",
				zap.Strings("preferredLocations", router.PreferredLocations()))

			err := manager.RefreshIfNeeded(ctx)
			if err != nil {
				logger.Warn("failed to refresh account topology after preference change", zap.Error(err))
			}
		}

		config = newConfig
	}

	if watchCfgFile && cfgFile != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected",
				zap.String("file", in.Name),
				zap.Stringer("op", in.Op))
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

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = webServer.Shutdown(shutdownCtx)
	if err != nil {
		logger.Warn("failed to shutdown the web server", zap.Error(err))
	}

	err = manager.Close()
	if err != nil {
		logger.Warn("failed to close the endpoint manager", zap.Error(err))
	}

	pool.Close()

	if otlpTracerProvider != nil {
		err = otlpTracerProvider.Shutdown(shutdownCtx)
		if err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}

	err = meterProvider.Shutdown(shutdownCtx)
	if err != nil {
		logger.Warn("failed to flush metrics", zap.Error(err))
	}

	logger.Info("georouter shutdown gracefully")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
