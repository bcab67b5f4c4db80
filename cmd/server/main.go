package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/engine"
	"github.com/agorasim/trading-core/internal/ledger"
	"github.com/agorasim/trading-core/internal/metrics"
	"github.com/agorasim/trading-core/internal/model"
	"github.com/agorasim/trading-core/internal/portfolio"
	"github.com/agorasim/trading-core/internal/ratelimit"
	"github.com/agorasim/trading-core/internal/server"
	"github.com/agorasim/trading-core/internal/sim"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	runID := os.Getenv("RUN_ID")
	if runID == "" {
		runID = fmt.Sprintf("web_%d", time.Now().Unix())
	}

	// --- Initialize ledger ---
	var led ledger.Ledger
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := ledger.NewPostgresLedger(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("ledger migration failed", "err", err)
			os.Exit(1)
		}
		led = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			led = ledger.NewCachedLedger(led, rdb, 5*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory ledger (data will not persist)")
		led = ledger.NewMemoryLedger()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Engine ---
	seedPrice := decimalEnv("SEED_PRICE", model.DefaultSeedPrice)
	eng := engine.New(led, runID, seedPrice)

	// --- Agents ---
	initialCash := decimalEnv("INITIAL_CASH", decimal.NewFromInt(10_000))
	numAgents := intEnv("SIM_AGENTS", 20)
	seedQty := int64(intEnv("SEED_QTY", 10))

	agents := make([]*sim.Agent, 0, numAgents)
	registry := make(map[string]*portfolio.Portfolio, numAgents)
	for i := 1; i <= numAgents; i++ {
		id := fmt.Sprintf("Agent_%d", i)
		pf := portfolio.New(initialCash)
		for _, asset := range model.SupportedAssets {
			pf.SeedPosition(asset, seedQty, seedPrice)
		}
		registry[id] = pf
		agents = append(agents, &sim.Agent{
			ID:        id,
			Portfolio: pf,
			Decider:   sim.NewRandomWalkDecider(time.Now().UnixNano() + int64(i)),
		})
	}

	// --- WebSocket hub ---
	wsHub := server.NewWSHub()
	go wsHub.Run()
	eng.SetTradePublisher(wsHub)

	// --- API service ---
	svc := server.NewService(eng, led, registry, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-core"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Mount)

	// --- Simulation loop ---
	simCtx, stopSim := context.WithCancel(context.Background())
	defer stopSim()

	if os.Getenv("SIM_ENABLED") != "false" {
		cfg := sim.Config{
			TickInterval:    time.Duration(intEnv("SIM_TICK_MS", 2000)) * time.Millisecond,
			AgentsPerTick:   intEnv("SIM_AGENTS_PER_TICK", 4),
			DecisionTimeout: time.Duration(intEnv("SIM_DECIDE_TIMEOUT_MS", 30_000)) * time.Millisecond,
		}
		limiter := ratelimit.New(intEnv("SIM_DECIDE_RPM", 30), time.Minute)
		runner := sim.NewRunner(eng, led, agents, limiter, cfg)
		go runner.Run(simCtx)
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-core listening", "port", port, "run_id", runID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSim()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-core...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-core stopped")
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func decimalEnv(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			return d
		}
	}
	return fallback
}
