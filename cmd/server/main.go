package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/perpx/vault-engine/internal/bank"
	"github.com/perpx/vault-engine/internal/ledger"
	"github.com/perpx/vault-engine/internal/metrics"
	"github.com/perpx/vault-engine/internal/oracle"
	"github.com/perpx/vault-engine/internal/policy"
	"github.com/perpx/vault-engine/internal/service"
	"github.com/perpx/vault-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	gov := os.Getenv("GOV_ACCOUNT")
	if gov == "" {
		gov = "gov"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
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
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger collaborators ---
	prices := oracle.NewStatic()
	custody := bank.NewBook()
	unit := bank.NewUnit()

	led, err := ledger.New(ledger.DefaultConfig(gov), prices, custody, unit,
		policy.NewStandardFees(), policy.NewStandardLiquidation())
	if err != nil {
		slog.Error("ledger init failed", "err", err)
		os.Exit(1)
	}

	// Rehydrate the snapshots saved by a previous run. The custody book
	// restarts empty, so re-credit it to each entry's observed balance
	// before handing the state to the ledger.
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 10*time.Second)
	entries, err := st.ListPoolEntries(restoreCtx)
	if err != nil {
		slog.Error("loading pool snapshots failed", "err", err)
		os.Exit(1)
	}
	if len(entries) > 0 {
		positions, err := st.ListPositions(restoreCtx)
		if err != nil {
			slog.Error("loading position snapshots failed", "err", err)
			os.Exit(1)
		}
		for asset, e := range entries {
			if e.ObservedBalance.Sign() == 0 {
				continue
			}
			if err := custody.Deposit(asset, e.ObservedBalance); err != nil {
				slog.Error("custody re-credit failed", "asset", asset, "err", err)
				os.Exit(1)
			}
		}
		if err := led.Restore(entries, positions); err != nil {
			slog.Error("state restore failed", "err", err)
			os.Exit(1)
		}
		slog.Info("ledger state restored", "assets", len(entries), "positions", len(positions))
	}
	cancelRestore()

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- Vault service ---
	vaultSvc := service.NewService(led, custody, unit, prices, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vault-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time change records.
		r.Get("/ws", wsHub.HandleWS)

		vaultSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vault-engine listening", "port", port, "gov", gov)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vault-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vault-engine stopped")
}
