// Command filestore starts one shard of the File Storage service
// (spec.md §4.B): content-addressed blob storage served over internal/rpc.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cms-dev/cms/internal/adapter/observability"
	"github.com/cms-dev/cms/internal/config"
	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/filestore"
	"github.com/cms-dev/cms/internal/rpc"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: filestore <shard>")
		os.Exit(2)
	}
	shard, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad shard argument %q: %v\n", args[0], err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	coord := domain.ServiceCoord{Name: "FileStorage", Shard: shard}
	logger = logger.With("service", coord.Name, "shard", coord.Shard)

	svcConf, err := config.LoadServicesConfig(cfg.ServicesConfigPath)
	if err != nil {
		logger.Error("services config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	addr, ok := svcConf.Lookup(coord)
	if !ok {
		logger.Error("no address configured for this shard")
		os.Exit(1)
	}

	dataRoot := filepath.Join(cfg.DataDir, fmt.Sprintf("fs-%d", shard))
	store, err := filestore.NewStore(dataRoot)
	if err != nil {
		logger.Error("store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	reg := rpc.NewRegistry()
	filestore.Register(reg, store)
	server := rpc.NewServer(coord, reg, 5, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		httpAddr := fmt.Sprintf(":%d", 8090+shard)
		logger.Info("metrics listening", slog.String("addr", httpAddr))
		if err := http.ListenAndServe(httpAddr, observability.HTTPMetricsMiddleware(mux)); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	listenAddr := fmt.Sprintf(":%d", addr.Port)
	logger.Info("file store starting", slog.String("addr", listenAddr), slog.String("data_root", dataRoot))
	if err := server.Serve(ctx, listenAddr); err != nil && ctx.Err() == nil {
		logger.Error("serve failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("file store stopped")
}
