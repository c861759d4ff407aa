package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/ows-codec/internal/cache"
	"github.com/mohammed-shakir/ows-codec/internal/cache/redisstore"
	"github.com/mohammed-shakir/ows-codec/internal/changes"
	"github.com/mohammed-shakir/ows-codec/internal/core/config"
	"github.com/mohammed-shakir/ows-codec/internal/core/executor"
	"github.com/mohammed-shakir/ows-codec/internal/core/health"
	"github.com/mohammed-shakir/ows-codec/internal/core/httpclient"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wms"
	"github.com/mohammed-shakir/ows-codec/internal/core/router"
	"github.com/mohammed-shakir/ows-codec/internal/core/server"
	"github.com/mohammed-shakir/ows-codec/internal/invalidation"
	"github.com/mohammed-shakir/ows-codec/internal/logger"
	"github.com/mohammed-shakir/ows-codec/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	layersFlag := flag.String("layers", "", "layer catalog file (overrides LAYERS_FILE)")
	flag.Parse()

	cfg := config.FromEnv()
	if *layersFlag != "" {
		cfg.LayersFile = strings.TrimSpace(*layersFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "owsgateway",
		Component: "gateway",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting gateway",
		"addr", cfg.Addr,
		"version", Version,
		"wfs", cfg.WFSURL,
		"layers", cfg.LayersFile)

	catalog, err := config.LoadCatalog(cfg.LayersFile)
	if err != nil {
		appLog.Error("failed to load layer catalog", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build:   metrics.BuildInfoFromEnv(Version),
	})
	observability.Init(prov.Registerer(), cfg.Metrics.Enabled)
	observability.ExposeBuildInfo(Version)
	if cfg.Metrics.Enabled {
		go func() {
			if err := prov.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	exec, err := executor.New(appLog, httpclient.NewOutbound(cfg.UpstreamTimeout), cfg.WFSURL)
	if err != nil {
		appLog.Error("failed to initialize executor", "err", err)
		return 1
	}

	deps := router.Deps{
		Cfg:     cfg,
		Catalog: catalog,
		Exec:    exec,
		Events:  changes.NewBuilder(cfg.H3Res, cfg.Changes.MaxCells),
		WMS:     wms.NewBuilder(wms.NewAxisOrder(append(cfg.AxisSwapRanges, catalog.AxisSwap...)...)),
		Rules:   catalog.Rules(),
	}
	var checks []health.Checker

	if cfg.CacheEnabled {
		var remote cache.Remote
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			// L1 still serves; redis is optional
			appLog.Warn("redis unavailable, using local cache only", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			remote = rc
			checks = append(checks, health.CheckFunc{N: "redis", Fn: rc.Ping})
		}
		layered := cache.NewLayered(appLog.With("component", "cache"), remote, cfg.CacheL1Size, cfg.CacheOpTimeout)
		deps.Cache = layered

		if cfg.Changes.Consume {
			c := invalidation.New(
				invalidation.NewConfig(cfg.Changes.Brokers, cfg.Changes.Topic, cfg.Changes.GroupID),
				appLog.With("component", "invalidation"), layered)
			go func() {
				if err := c.Start(ctx); err != nil {
					appLog.Error("invalidation consumer stopped", "err", err)
				}
			}()
		}
	}

	if cfg.Changes.Enabled {
		pub, err := changes.NewKafkaPublisher(appLog.With("component", "changes"), cfg.Changes.Brokers, cfg.Changes.Topic, cfg.Changes.QueueSize)
		if err != nil {
			appLog.Error("failed to start change publisher", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("change publisher close", "err", err)
			}
		}()
		deps.Publisher = pub
	}

	handler := server.NewHandler(appLog, server.Options{
		Deps:    deps,
		Metrics: promhttp.Handler(),
		Checks:  checks,
	})
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
