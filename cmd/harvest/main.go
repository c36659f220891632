package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/challenge"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/crawler"
	"github.com/use-agent/harvest/identity"
	"github.com/use-agent/harvest/ledger"
	"github.com/use-agent/harvest/metrics"
	"github.com/use-agent/harvest/policy"
	"github.com/use-agent/harvest/retry"
	"github.com/use-agent/harvest/rotation"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/targets"
	"github.com/use-agent/harvest/webhook"
)

func main() {
	headfull := flag.Bool("headfull", false, "show the browser window instead of running headless")
	flag.Parse()

	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()
	if *headfull {
		cfg.Browser.Headless = false
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	runID := uuid.NewString()
	slog.SetDefault(slog.Default().With("run", runID))
	slog.Info("harvest starting",
		"targets", cfg.Files.TargetList,
		"seen", cfg.Files.SeenSet,
		"results", cfg.Files.Results,
		"headless", cfg.Browser.Headless,
		"ledger", cfg.Ledger.Backend,
	)

	if err := run(cfg, runID); err != nil {
		slog.Error("harvest failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, runID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Load inputs; failure here halts before any run state ────
	list, err := targets.Load(cfg.Files.TargetList)
	if err != nil {
		return err
	}
	l, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	// ── 4. Session factory ──────────────────────────────────────────
	pool, err := identity.Load(cfg.Identity.PoolFile)
	if err != nil {
		return err
	}
	pol := policy.NewRandom()
	factory, err := session.NewRodFactory(cfg.Browser, pool, pol, cfg.Files.ExtraStealthScript)
	if err != nil {
		return err
	}

	// ── 5. Metrics, attempt loop, scheduler ─────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	detector := challenge.NewDetector(cfg.Crawl.ChallengePhrases)
	ctrl := retry.New(retry.ConfigFrom(cfg), retry.Deps{
		Detector: detector,
		Handler:  challenge.NewResolver(challenge.DefaultConfig(), detector, pol, nil),
		Ledger:   l,
		Policy:   pol,
		Metrics:  m,
	})

	orch := crawler.New(crawler.Deps{
		RunID:     runID,
		Targets:   list,
		Ledger:    l,
		Factory:   factory,
		Limiter:   session.NewLimiter(cfg.Crawl.NavigationsPerMinute),
		Attempter: ctrl,
		Scheduler: rotation.New(rotation.ConfigFrom(cfg), pol, nil),
		Metrics:   m,
	})

	// ── 6. Optional status server ───────────────────────────────────
	if cfg.Status.Addr != "" {
		srv := api.NewServer(api.NewRouter(orch, reg, cfg.Status, time.Now()), cfg.Status)
		go func() {
			slog.Info("status server listening", "addr", cfg.Status.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("status server forced shutdown", "error", err)
			}
		}()
	}

	// ── 7. Run until the queue drains or a signal arrives ───────────
	st, err := orch.Run(ctx)
	slog.Info("harvest finished",
		"phase", st.Phase.String(),
		"summary", st.Summary(),
		"absent", st.Absent,
		"failures", st.Failures,
		"challenges", st.Challenges,
		"rotations", st.Rotations,
	)

	notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	notifier := webhook.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret)
	if nerr := notifier.Notify(notifyCtx, &webhook.Event{
		Type:      "run." + strings.ToLower(st.Phase.String()),
		RunID:     runID,
		Timestamp: time.Now().Unix(),
		Data:      st,
	}); nerr != nil {
		slog.Error("run notification not delivered", "error", nerr)
	}
	return err
}

// openLedger builds the results log and the configured seen-set backend.
func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	var seen ledger.SeenSet
	switch cfg.Ledger.Backend {
	case "file", "":
		s, err := ledger.OpenFileSeenSet(cfg.Files.SeenSet)
		if err != nil {
			return nil, err
		}
		seen = s
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Ledger.RedisAddr})
		s, err := ledger.NewRedisSeenSet(ctx, client, cfg.Ledger.RedisKey)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect seen-set redis at %s: %w", cfg.Ledger.RedisAddr, err)
		}
		seen = s
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	results, err := ledger.OpenFileResultLog(cfg.Files.Results)
	if err != nil {
		_ = seen.Close()
		return nil, err
	}
	return ledger.New(seen, results), nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
