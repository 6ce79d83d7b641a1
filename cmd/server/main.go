package main

import (
	"context"
	"flag"
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

	"github.com/stockpit/portfolio-engine/internal/api"
	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/config"
	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/metrics"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/schedule"
	"github.com/stockpit/portfolio-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg, err := store.NewPostgresStore(context.Background(), pool)
		if err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Enabled {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exchange clock ---
	clock, err := calendar.NewExchangeClock(cfg.Exchange.Timezone)
	if err != nil {
		slog.Error("invalid exchange timezone", "err", err)
		os.Exit(1)
	}

	// --- Market data gateway ---
	gateway := marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.Timeout, cfg.MarketData.RequestsPerMinute)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Engine ---
	opts := []engine.Option{
		engine.WithOrderResolvedHook(func(o model.Order, status model.OrderStatus) {
			wsHub.Broadcast(api.WSMessage{
				Type:        "order_resolved",
				PortfolioID: o.PortfolioID,
				TradeType:   string(o.Type),
				Shares:      o.Shares,
				Status:      string(status),
			})
		}),
	}
	if cfg.Orders.StopLossTrigger == "above" {
		opts = append(opts, engine.WithStopLossTriggerAbove())
	}
	eng := engine.New(st, gateway, clock, opts...)

	// --- Scheduler ---
	jobs := &schedule.Jobs{
		Store:      st,
		Engine:     eng,
		Clock:      clock,
		OnRevalued: wsHub.BroadcastValuationTick,
	}
	sched := &schedule.Scheduler{Jobs: jobs, Clock: clock}

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	go sched.Run(schedCtx)

	// --- API service ---
	svc := api.NewService(st, eng, gateway, clock, wsHub)

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
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time valuation updates.
		r.Get("/ws", wsHub.HandleWS)

		// Game management.
		r.Get("/games", svc.ListGames)
		r.Post("/games", svc.CreateGame)
		r.Get("/games/{gameID}", svc.GetGame)
		r.Post("/games/{gameID}/join", svc.JoinGame)
		r.Get("/games/{gameID}/leaderboard", svc.GetLeaderboard)
		r.Get("/games/{gameID}/history", svc.GetGameHistory)
		r.Get("/games/{gameID}/intraday", svc.GetGameIntraday)

		// Portfolio queries.
		r.Get("/portfolios/{portfolioID}", svc.GetPortfolio)
		r.Get("/portfolios/{portfolioID}/orders", svc.ListPortfolioOrders)

		// Trade execution.
		r.Post("/trades", svc.ExecuteTrade)

		// Standing orders.
		r.Post("/orders", svc.SubmitOrder)
		r.Delete("/orders/{orderID}", svc.CancelOrder)

		// Stock lookups.
		r.Get("/stocks/{ticker}", svc.GetStock)
		r.Get("/stocks/{ticker}/history", svc.GetStockHistory)
		r.Get("/stocks/{ticker}/news", svc.GetStockNews)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSched()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}

func setupLogging(cfg config.LoggingConfig) {
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
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
