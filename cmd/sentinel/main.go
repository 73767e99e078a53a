// Command sentinel is the PySentinel scan engine entrypoint, grounded
// on the teacher's cmd/talos-cli cobra layout and cmd/atlas startup
// sequencing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/project-sentinel/pysentinel/internal/api"
	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/logger"
	"github.com/project-sentinel/pysentinel/internal/monitoring"
	"github.com/project-sentinel/pysentinel/internal/secrets"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/channel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/datasource"
	"github.com/project-sentinel/pysentinel/internal/sentinel/ledger"
	"github.com/project-sentinel/pysentinel/internal/sentinel/scanner"
	"github.com/project-sentinel/pysentinel/internal/telemetry"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// exit codes per spec.md §6.
const (
	exitOK         = 0
	exitStartupErr = 1
	exitArgErr     = 2
)

var asyncFlag bool
var apiAddrFlag string

func main() {
	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "PySentinel threshold-based alerting scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &argError{err}
	})
	root.AddCommand(scanCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(*argError); ok {
			os.Exit(exitArgErr)
		}
		os.Exit(exitStartupErr)
	}
}

// argError marks a cobra RunE failure as an argument error (exit code
// 2) rather than a startup error (exit code 1).
type argError struct{ err error }

func (a *argError) Error() string { return a.err.Error() }

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <config>",
		Short: "Run the scan loop against a configuration file",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &argError{fmt.Errorf("expected exactly one config path argument")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args[0])
		},
	}
	cmd.Flags().BoolVar(&asyncFlag, "async", false, "recorded in the startup log; the scan loop runs in the background and waits on a signal channel with or without it")
	cmd.Flags().StringVar(&apiAddrFlag, "api-addr", ":8090", "address for the introspection HTTP API")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print scan engine build info",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("pysentinel %s\n", version)
			fmt.Println("status: use the introspection API's /api/v1/status endpoint against a running instance")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pysentinel version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runScan(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return serrors.NewConfigError("loading configuration", err)
	}

	log := logger.New(logger.Options{
		Level:      cfg.Global.LogLevel,
		LogFile:    "sentinel.log",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	logger.SetGlobal(log)
	defer logger.Sync()

	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		resolver, err := secrets.NewResolver(vaultAddr, os.Getenv("VAULT_TOKEN"), os.Getenv("VAULT_MOUNT"))
		if err != nil {
			log.Warn("vault resolver unavailable, falling back to ${VAR} expansion only", zap.Error(err))
		} else {
			config.SetSecretResolver(resolver)
			log.Info("vault secret resolution enabled", zap.String("address", vaultAddr))
		}
	}

	tracer, err := telemetry.New(telemetry.Config{
		ServiceName:  "pysentinel",
		Enabled:      os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRatio:  1.0,
	})
	if err != nil {
		return serrors.Wrap(serrors.ConfigError, "initializing telemetry", err)
	}
	defer tracer.Shutdown(context.Background())

	var sc *scanner.Scanner
	scannerMetrics := monitoring.NewScannerMetrics(func() float64 {
		if sc == nil {
			return 0
		}
		return sc.GetUptimeSeconds()
	})

	registry := datasource.NewRegistry()
	for name, dsCfg := range cfg.DataSources {
		timeout := time.Duration(dsCfg.Timeout) * time.Second
		var ds datasource.DataSource
		switch dsCfg.Type {
		case "http":
			ds = datasource.NewHTTPSource(name, dsCfg.Options, timeout)
		case "postgresql":
			ds = datasource.NewPostgresSource(name, dsCfg.Options)
		case "redis":
			ds = datasource.NewRedisSource(name, dsCfg.Options)
		case "prometheus":
			ds = datasource.NewPrometheusSource(name, dsCfg.Options, timeout)
		case "elasticsearch":
			ds = datasource.NewElasticsearchSource(name, dsCfg.Options, timeout)
		default:
			log.Warn("skipping datasource with unrecognized type", zap.String("name", name), zap.String("type", dsCfg.Type))
			continue
		}
		state := datasource.NewState(name, dsCfg.Enabled, dsCfg.MaxRetries, dsCfg.Interval, timeout)
		registry.Register(ds, state)
	}

	channels := channel.NewRegistry()
	for name, chCfg := range cfg.AlertChannels {
		var ch channel.AlertChannel
		switch chCfg.Type {
		case "email":
			ch = channel.NewEmailChannel(name, chCfg.Options)
		case "slack":
			ch = channel.NewSlackChannel(name, chCfg.Options)
		case "webhook":
			ch = channel.NewWebhookChannel(name, chCfg.Options, 10*time.Second)
		case "telegram":
			ch = channel.NewTelegramChannel(name, chCfg.Options)
		default:
			log.Warn("skipping alert channel with unrecognized type", zap.String("name", name), zap.String("type", chCfg.Type))
			continue
		}
		channels.Register(ch)
	}

	var definitions []*sentinel.AlertDefinition
	for groupName, group := range cfg.AlertGroups {
		defs, errs := sentinel.FromConfig(groupName, group)
		for _, e := range errs {
			log.Warn("skipping malformed alert", zap.String("group", groupName), zap.Error(e))
		}
		definitions = append(definitions, defs...)
	}

	runLedger, err := ledger.NewSQLiteLedger("alerts.db")
	if err != nil {
		return serrors.Wrap(serrors.ConfigError, "opening run ledger", err)
	}
	defer runLedger.Close()

	sc = scanner.New(scanner.Config{
		Datasources:     registry,
		Channels:        channels,
		Definitions:     definitions,
		Ledger:          runLedger,
		CooldownMinutes: cfg.Global.AlertCooldownMinutes,
		MaxHistory:      cfg.Global.MaxHistory,
		Metrics:         scannerMetrics,
		Tracer:          tracer,
		Logger:          log,
	})

	apiServer := api.New(apiAddrFlag, sc, scannerMetrics, log)
	apiServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		apiServer.Shutdown(shutdownCtx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc.Start(ctx)

	log.Info("pysentinel scan loop started", zap.Int("datasources", len(registry.Names())), zap.Int("alerts", len(definitions)), zap.Bool("async", asyncFlag))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	sc.Stop()
	return nil
}
