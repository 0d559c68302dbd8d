// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/momanyid/ids-v1/internal/analyze"
	"github.com/momanyid/ids-v1/internal/events"
	"github.com/momanyid/ids-v1/internal/events/consumers/alertlog"
	"github.com/momanyid/ids-v1/internal/events/consumers/debug"
	"github.com/momanyid/ids-v1/internal/server"
	"github.com/momanyid/ids-v1/pkg/config/environment"
	"github.com/momanyid/ids-v1/pkg/telemetry"
	"github.com/momanyid/ids-v1/pkg/telemetry/sources"
)

// View context names. Each runs on its own timer with its own cancellation
// scope.
const (
	contextOverview  = "overview"
	contextLogs      = "logs"
	contextAnalytics = "analytics"
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	alertLogPath      string
	analyticsInterval time.Duration
	devMode           bool
	enableDebugEvents bool
	listenAddr        string
	localMode         bool
	logsInterval      time.Duration
	overviewInterval  time.Duration
	sourceTimeout     time.Duration
	upstreamURL       string
)

func init() {
	flag.StringVar(&alertLogPath, "alert-log", "security_alerts.log",
		"Path of the rotating alert log file")
	flag.DurationVar(&analyticsInterval, "analytics-interval", 60*time.Second,
		"Refresh interval for the analytics view context")
	flag.BoolVar(&devMode, "dev", false,
		"Use development logger settings (console encoding, debug level)")
	flag.BoolVar(&enableDebugEvents, "debug-events", false,
		"Log every bus event (snapshot updates and alerts)")
	flag.StringVar(&listenAddr, "listen-address", ":8080",
		"The address the read API binds to")
	flag.BoolVar(&localMode, "local", false,
		"Sample the local host via gopsutil instead of querying an upstream engine")
	flag.DurationVar(&logsInterval, "logs-interval", 15*time.Second,
		"Refresh interval for the logs view context")
	flag.DurationVar(&overviewInterval, "overview-interval", 15*time.Second,
		"Refresh interval for the overview view context")
	flag.DurationVar(&sourceTimeout, "source-timeout", 5*time.Second,
		"Per-source deadline within a refresh cycle")
	flag.StringVar(&upstreamURL, "upstream", "",
		"Base URL of the upstream query API (overrides UPSTREAM_URL)")
	flag.Parse()

	var zlog *zap.Logger
	var err error
	if devMode {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	setupLog = zapr.NewLogger(zlog).WithName("setup")
}

func resolveConfig() (telemetry.SourceConfig, server.Config) {
	if upstreamURL == "" {
		upstreamURL = environment.GetUpstreamURL()
	}
	if addr := environment.GetListenAddr(); addr != "" && listenAddr == ":8080" {
		listenAddr = addr
	}
	if path := environment.GetAlertLogPath(); path != "" && alertLogPath == "security_alerts.log" {
		alertLogPath = path
	}

	srcCfg := telemetry.SourceConfig{BaseURL: upstreamURL, Timeout: sourceTimeout}
	srcCfg.ApplyDefaults()
	return srcCfg, server.Config{ListenAddr: listenAddr}
}

// buildSources instantiates one source per registered kind. In local mode the
// gopsutil sources replace the upstream status/metrics clients and every kind
// that needs an upstream is marked unavailable instead of half-working.
func buildSources(logger logr.Logger, cfg telemetry.SourceConfig) ([]telemetry.Source, error) {
	if localMode {
		status, err := sources.NewLocalStatusSource(logger, cfg)
		if err != nil {
			return nil, err
		}
		metrics, err := sources.NewLocalMetricsSource(logger, cfg)
		if err != nil {
			return nil, err
		}
		for _, kind := range []telemetry.SourceKind{
			telemetry.SourceNetwork, telemetry.SourceLogs, telemetry.SourceAlerts,
			telemetry.SourceThreats, telemetry.SourceAnalytics,
		} {
			telemetry.MarkUnavailable(kind, "requires an upstream engine; running in local mode")
		}
		return []telemetry.Source{status, metrics}, nil
	}

	var built []telemetry.Source
	for _, kind := range telemetry.AvailableSources() {
		factory, err := telemetry.GetSource(kind)
		if err != nil {
			return nil, err
		}
		src, err := factory(logger, cfg)
		if err != nil {
			return nil, fmt.Errorf("building %s source: %w", kind, err)
		}
		built = append(built, src)
	}
	return built, nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := setupLog.WithName("engine")
	srcCfg, srvCfg := resolveConfig()

	nodeName, err := environment.GetNodeName()
	if err != nil {
		return fmt.Errorf("resolving node name: %w", err)
	}
	setupLog.Info("starting telemetry engine",
		"node", nodeName, "upstream", srcCfg.BaseURL, "local", localMode)

	srcs, err := buildSources(logger, srcCfg)
	if err != nil {
		return err
	}

	aggOpts := []telemetry.AggregatorOption{
		telemetry.WithSourceTimeout(sourceTimeout),
		telemetry.WithWindow(telemetry.SourceMetrics, time.Minute),
		telemetry.WithWindow(telemetry.SourceNetwork, time.Minute),
		telemetry.WithWindow(telemetry.SourceLogs, time.Hour),
	}
	for _, src := range srcs {
		aggOpts = append(aggOpts, telemetry.WithSource(src))
	}
	agg, err := telemetry.NewAggregator(logger, aggOpts...)
	if err != nil {
		return err
	}

	router := events.NewRouter(logger)
	go func() {
		if err := router.Start(ctx); err != nil {
			setupLog.Error(err, "event router exited")
		}
	}()

	alertConsumer := alertlog.NewConsumer(alertlog.Config{Path: alertLogPath}, logger)
	if err := alertConsumer.Start(ctx); err != nil {
		return err
	}
	if err := router.RegisterConsumer(alertConsumer); err != nil {
		return err
	}

	hub := server.NewHub(logger)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	if err := router.RegisterConsumer(hub); err != nil {
		return err
	}

	if enableDebugEvents {
		debugConsumer := debug.NewConsumer(debug.Config{}, logger)
		if err := debugConsumer.Start(ctx); err != nil {
			return err
		}
		if err := router.RegisterConsumer(debugConsumer); err != nil {
			return err
		}
	}

	analyzer, err := analyze.NewEngine(logger)
	if err != nil {
		return err
	}

	cycle := func(name string, kinds []telemetry.SourceKind) telemetry.CycleFunc {
		return func(cctx context.Context) {
			snap, results := agg.Refresh(cctx, kinds)
			for _, res := range results {
				if res.Err != nil {
					logger.V(1).Info("source failed this cycle",
						"context", name, "kind", res.Kind, "error", res.Err.Error())
				}
			}
			if cctx.Err() != nil {
				return
			}

			if err := router.Publish(events.Event{
				Timestamp: time.Now(),
				Kind:      events.KindSnapshotUpdated,
				Context:   name,
				Source:    "aggregator",
				Snapshot:  snap,
			}); err != nil {
				logger.V(1).Info("snapshot event not delivered", "error", err.Error())
			}

			for _, alert := range analyzer.Scan(snap) {
				a := alert
				if err := router.Publish(events.Event{
					Timestamp: time.Now(),
					Kind:      events.KindAlertRaised,
					Context:   name,
					Source:    "analyzer",
					Alert:     &a,
				}); err != nil {
					logger.V(1).Info("alert event not delivered", "error", err.Error())
				}
			}
		}
	}

	sched, err := telemetry.NewScheduler(logger)
	if err != nil {
		return err
	}
	defer sched.StopAll()

	viewContexts := []telemetry.ViewContext{
		{
			Name:     contextOverview,
			Interval: overviewInterval,
			Run: cycle(contextOverview, []telemetry.SourceKind{
				telemetry.SourceStatus, telemetry.SourceMetrics,
				telemetry.SourceNetwork, telemetry.SourceThreats,
			}),
		},
		{
			Name:     contextLogs,
			Interval: logsInterval,
			Run: cycle(contextLogs, []telemetry.SourceKind{
				telemetry.SourceLogs, telemetry.SourceAlerts,
			}),
		},
		{
			Name:     contextAnalytics,
			Interval: analyticsInterval,
			Run: cycle(contextAnalytics, []telemetry.SourceKind{
				telemetry.SourceAnalytics,
			}),
		},
	}
	contextNames := make([]string, 0, len(viewContexts))
	for _, vc := range viewContexts {
		if err := sched.Start(ctx, vc); err != nil {
			return err
		}
		contextNames = append(contextNames, vc.Name)
	}

	srv, err := server.New(logger, srvCfg, agg, sched, analyzer, alertConsumer, hub, contextNames)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func main() {
	if err := run(); err != nil {
		setupLog.Error(err, "engine exited with error")
		os.Exit(1)
	}
}
