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
	"github.com/redis/go-redis/v9"

	"github.com/atmx/trading-arena/internal/config"
	"github.com/atmx/trading-arena/internal/feed"
	"github.com/atmx/trading-arena/internal/lobby"
	"github.com/atmx/trading-arena/internal/metrics"
	"github.com/atmx/trading-arena/internal/pricing"
	"github.com/atmx/trading-arena/internal/retention"
	"github.com/atmx/trading-arena/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Session event feed ---
	var pub feed.Publisher = feed.Nop{}
	var cleanup []func()

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		mirror := feed.NewAsync(feed.NewRedisPublisher(rdb), 1024)
		cleanup = append(cleanup, func() {
			mirror.Close()
			rdb.Close()
		})
		pub = mirror
		slog.Info("Redis session feed enabled")
	} else {
		slog.Warn("REDIS_URL not set, session events are not mirrored")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Sessions ---
	hub := trade.NewHub(cfg.Server.SendBuffer)
	lobbies := lobby.NewManager(lobby.Config{
		Assets:       cfg.Market.Assets.Symbols(),
		Tick:         cfg.Market.Tick,
		InitialPrice: cfg.Market.InitialPrice,
		Params:       pricing.DefaultParams(),
		Defaults:     cfg.Session.DefaultRules(),
		MaxDuration:  cfg.Session.MaxDuration,
	}, hub, lobby.WithPublisher(pub))

	sweeper := retention.NewScheduler(lobbies, cfg.Session.Retention)
	if err := sweeper.Start(); err != nil {
		slog.Error("retention scheduler failed", "err", err)
		os.Exit(1)
	}

	tradeSvc := trade.NewService(hub, lobbies)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-arena"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Long-lived; must stay outside the request timeout.
	r.Get("/ws", tradeSvc.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/sessions", tradeSvc.ListSessions)
		r.Get("/sessions/{lobbyID}", tradeSvc.GetSession)
		r.Get("/sessions/{lobbyID}/leaderboard", tradeSvc.GetLeaderboard)
		r.Get("/sessions/{lobbyID}/prices", tradeSvc.GetPrices)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("trading-arena listening",
			"port", cfg.Server.Port,
			"assets", cfg.Market.Assets.String(),
			"tick_interval", cfg.Session.TickInterval,
			"duration", cfg.Session.Duration,
		)
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

	slog.Info("shutting down trading-arena...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	sweeper.Stop()
	if err := lobbies.Shutdown(ctx); err != nil {
		slog.Error("session shutdown error", "err", err)
	}
	fmt.Println("trading-arena stopped")
}
