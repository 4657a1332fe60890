// Command evalservice starts the Evaluation Service (spec.md §4.E): the
// Job Queue, Worker Pool, and every submission/user-test state transition.
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cms-dev/cms/internal/adapter/observability"
	"github.com/cms-dev/cms/internal/adapter/repo/postgres"
	"github.com/cms-dev/cms/internal/config"
	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/evalservice"
	"github.com/cms-dev/cms/internal/gradepool"
	"github.com/cms-dev/cms/internal/gradequeue"
	"github.com/cms-dev/cms/internal/rpc"
)

func main() {
	contestID := flag.String("c", "ALL", "contest ID to serve, or ALL for every contest")
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: evalservice [-c contestID] <shard>")
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

	coord := domain.ServiceCoord{Name: "EvaluationService", Shard: shard}
	logger = logger.With("service", coord.Name, "shard", coord.Shard, "contest", *contestID)

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
	tokens := postgres.NewTokenRepo(pool)
	tasks := postgres.NewTaskRepo(pool)
	subResults := postgres.NewResultRepo(pool)
	testResults := postgres.NewUserTestResultRepo(pool)

	queue := gradequeue.New()
	workerPool := gradepool.New(cfg.WorkerTimeout)
	svc := evalservice.New(queue, workerPool, evalservice.Config{
		MaxCompilationTries: cfg.MaxCompilationTries,
		MaxEvaluationTries:  cfg.MaxEvaluationTries,
	}, logger)
	svc.Submissions = submissions
	svc.UserTests = userTests
	svc.Tokens = tokens
	svc.Tasks = tasks
	svc.SubmissionRes = subResults
	svc.UserTestRes = testResults

	workers := evalservice.NewRemoteWorkerPool(workerPool, *contestID, logger)
	for _, wc := range svcConf.Shards("Worker") {
		wAddr, _ := svcConf.Lookup(wc)
		workers.AddWorker(ctx, wc, fmt.Sprintf(":%d", wAddr.Port))
	}
	svc.Worker = workers

	ssCoord := domain.ServiceCoord{Name: "ScoringService", Shard: 0}
	if ssAddr, ok := svcConf.Lookup(ssCoord); ok {
		ssClient := rpc.NewClient(ssCoord, fmt.Sprintf(":%d", ssAddr.Port), logger)
		go ssClient.Start(ctx)
		svc.ScoringNotifier = evalservice.NewRemoteScoringNotifier(ssClient, logger)
	} else {
		logger.Warn("no scoring service address configured; evaluations won't be relayed")
	}

	reg := rpc.NewRegistry()
	evalservice.Register(reg, svc)
	server := rpc.NewServer(coord, reg, 5, logger)

	go runTimers(ctx, svc, cfg, *contestID, logger)

	go func() {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		httpAddr := fmt.Sprintf(":%d", 8290+shard)
		logger.Info("metrics listening", slog.String("addr", httpAddr))
		if err := http.ListenAndServe(httpAddr, observability.HTTPMetricsMiddleware(mux)); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	listenAddr := fmt.Sprintf(":%d", addr.Port)
	logger.Info("evaluation service starting", slog.String("addr", listenAddr))
	if err := server.Serve(ctx, listenAddr); err != nil && ctx.Err() == nil {
		logger.Error("serve failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("evaluation service stopped")
}

// runTimers drives Dispatch/CheckTimeouts/CheckConnections/Sweep on the
// intervals spec.md §4.E names, matching the source's AsyncLibrary
// ActorTypeclass periodic sweepers.
func runTimers(ctx context.Context, svc *evalservice.Service, cfg config.Config, contestID string, log *slog.Logger) {
	dispatchT := time.NewTicker(cfg.DispatchInterval)
	timeoutT := time.NewTicker(cfg.TimeoutCheckInterval)
	connT := time.NewTicker(cfg.ConnectionCheckInterval)
	sweepT := time.NewTicker(cfg.SweepInterval)
	defer dispatchT.Stop()
	defer timeoutT.Stop()
	defer connT.Stop()
	defer sweepT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatchT.C:
			for svc.Dispatch() {
			}
		case now := <-timeoutT.C:
			svc.CheckTimeouts(now)
		case <-connT.C:
			svc.CheckConnections()
		case <-sweepT.C:
			if contestID == "ALL" {
				continue
			}
			svc.Sweep(ctx, contestID)
		}
	}
}
