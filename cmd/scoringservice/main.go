// Command scoringservice starts the Scoring Service (spec.md §4.G): per-task
// Scorers fed by the Evaluation Service, relaying score/token changes to the
// configured ranking endpoints.
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
	"github.com/cms-dev/cms/internal/rpc"
	"github.com/cms-dev/cms/internal/scoring"
)

func main() {
	contestID := flag.String("c", "ALL", "contest ID to serve, or ALL for every contest")
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: scoringservice [-c contestID] <shard>")
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

	coord := domain.ServiceCoord{Name: "ScoringService", Shard: shard}
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
	tokens := postgres.NewTokenRepo(pool)
	tasks := postgres.NewTaskRepo(pool)
	contests := postgres.NewContestRepo(pool)
	results := postgres.NewResultRepo(pool)

	endpoints := make([]scoring.RankingEndpoint, len(cfg.RankingURLs))
	for i, url := range cfg.RankingURLs {
		endpoints[i] = scoring.RankingEndpoint{BaseURL: url, Username: cfg.RankingUsername, Password: cfg.RankingPassword}
	}
	ranking := scoring.NewRankingClient(endpoints, logger)

	svc := scoring.New(scoring.Config{
		Submissions: submissions,
		Results:     results,
		Tasks:       tasks,
		Contests:    contests,
		Tokens:      tokens,
		Ranking:     ranking,
		Log:         logger,
	})

	if *contestID != "ALL" {
		initRanking(ctx, ranking, contests, tasks, *contestID, logger)
	}

	reg := rpc.NewRegistry()
	scoring.Register(reg, svc)
	server := rpc.NewServer(coord, reg, 5, logger)

	go runTimers(ctx, svc, ranking, cfg, *contestID, logger)

	go func() {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		httpAddr := fmt.Sprintf(":%d", 8390+shard)
		logger.Info("metrics listening", slog.String("addr", httpAddr))
		if err := http.ListenAndServe(httpAddr, observability.HTTPMetricsMiddleware(mux)); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	listenAddr := fmt.Sprintf(":%d", addr.Port)
	logger.Info("scoring service starting", slog.String("addr", listenAddr))
	if err := server.Serve(ctx, listenAddr); err != nil && ctx.Err() == nil {
		logger.Error("serve failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("scoring service stopped")
}

// initRanking enqueues the contest/users/tasks bootstrap PUTs once at
// startup (spec.md §4.G, ScoringService.py's __init__ calling
// init_queue), resolved from the read-only ContestRepository/TaskRepository.
func initRanking(ctx context.Context, ranking *scoring.RankingClient, contests domain.ContestRepository, tasks domain.TaskRepository, contestID string, log *slog.Logger) {
	contest, err := contests.GetContest(ctx, contestID)
	if err != nil {
		log.Error("ranking init: load contest failed", slog.Any("error", err))
		return
	}
	parts, err := contests.ListParticipations(ctx, contestID)
	if err != nil {
		log.Error("ranking init: list participations failed", slog.Any("error", err))
		return
	}
	users := make([]scoring.RankingUser, len(parts))
	for i, p := range parts {
		users[i] = scoring.RankingUser{Username: p.Username, FirstName: p.Username}
	}
	taskList, err := tasks.ContestTasks(ctx, contestID)
	if err != nil {
		log.Error("ranking init: list tasks failed", slog.Any("error", err))
		return
	}
	rtasks := make([]scoring.RankingTask, len(taskList))
	for i, t := range taskList {
		rtasks[i] = scoring.RankingTask{Name: t.Name, Title: t.Title, Order: i}
	}
	ranking.Init(contest.ID, contest.Name, contest.Start, contest.Stop, users, rtasks)
}

// runTimers drives the ranking drain (RankingDrainInterval) and the
// evaluated-but-not-scored sweep, svc.Sweep (RankingSweepInterval).
func runTimers(ctx context.Context, svc *scoring.Service, ranking *scoring.RankingClient, cfg config.Config, contestID string, log *slog.Logger) {
	drainT := time.NewTicker(cfg.RankingDrainInterval)
	sweepT := time.NewTicker(cfg.RankingSweepInterval)
	defer drainT.Stop()
	defer sweepT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drainT.C:
			ranking.DrainOnce(ctx)
		case <-sweepT.C:
			if contestID == "ALL" {
				continue
			}
			n, err := svc.Sweep(ctx, contestID)
			if err != nil {
				log.Warn("sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.Info("sweep scored missed submissions", slog.Int("count", n))
			}
		}
	}
}
