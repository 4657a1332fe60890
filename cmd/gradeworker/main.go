// Command gradeworker starts one shard of the Worker (spec.md §4.F): it
// compiles and evaluates submissions/user tests dispatched by the
// Evaluation Service, one job at a time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cms-dev/cms/internal/adapter/observability"
	"github.com/cms-dev/cms/internal/adapter/repo/postgres"
	"github.com/cms-dev/cms/internal/config"
	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/filestore"
	"github.com/cms-dev/cms/internal/gradeworker"
	"github.com/cms-dev/cms/internal/rpc"
	"github.com/cms-dev/cms/internal/sandbox"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gradeworker <shard>")
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

	coord := domain.ServiceCoord{Name: "Worker", Shard: shard}
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	submissions := postgres.NewSubmissionRepo(pool)
	userTests := postgres.NewUserTestRepo(pool)
	tasks := postgres.NewTaskRepo(pool)
	subResults := postgres.NewResultRepo(pool)
	testResults := postgres.NewUserTestResultRepo(pool)

	// File content comes from the File Store over get_file/put_file;
	// this shard dials the File Store's shard-0 instance (spec.md §4.B:
	// every component is a FileCacher client, not just ES/CWS).
	fsCoord := domain.ServiceCoord{Name: "FileStorage", Shard: 0}
	fsAddr, ok := svcConf.Lookup(fsCoord)
	if !ok {
		logger.Error("no file store address configured")
		os.Exit(1)
	}
	fsClient := rpc.NewClient(fsCoord, fmt.Sprintf(":%d", fsAddr.Port), logger)
	go fsClient.Start(ctx)
	fsPeer, err := fsClient.Peer(ctx)
	if err != nil {
		logger.Error("file store connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	remoteStore := filestore.NewRemoteStore(fsPeer)
	cacher, err := filestore.NewCacher(remoteStore, cfg.CacheDir, coord)
	if err != nil {
		logger.Error("cacher init failed", slog.Any("error", err))
		os.Exit(1)
	}

	worker := gradeworker.New(gradeworker.Config{
		Coord:       coord,
		Cacher:      cacher,
		Sandbox:     sandbox.NewLocal(),
		Submissions: submissions,
		UserTests:   userTests,
		Tasks:       tasks,
		SubResults:  subResults,
		TestResults: testResults,
		OnQuit: func(reason string) {
			logger.Info("shutting down on quit request", slog.String("reason", reason))
			cancel()
		},
		Log: logger,
	})

	reg := rpc.NewRegistry()
	gradeworker.Register(reg, worker)
	server := rpc.NewServer(coord, reg, 5, logger)

	go func() {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		httpAddr := fmt.Sprintf(":%d", 8190+shard)
		logger.Info("metrics listening", slog.String("addr", httpAddr))
		if err := http.ListenAndServe(httpAddr, observability.HTTPMetricsMiddleware(mux)); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	listenAddr := fmt.Sprintf(":%d", addr.Port)
	logger.Info("worker starting", slog.String("addr", listenAddr))
	if err := server.Serve(ctx, listenAddr); err != nil && ctx.Err() == nil {
		logger.Error("serve failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
