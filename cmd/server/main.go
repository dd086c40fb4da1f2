// Package main - Live Chat Dispatch Core entry point
// Wires the hexagonal layers together: config -> stores/repositories ->
// core services -> HTTP/WebSocket adapters.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"livechat-core/internal/adapters/handler"
	"livechat-core/internal/adapters/repository"
	ws "livechat-core/internal/adapters/websocket"
	"livechat-core/internal/config"
	"livechat-core/internal/core/services"
)

func main() {
	slog.Info("Live chat dispatch core starting")

	// 1. Load Configuration from Environment
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slog.Info("Config loaded",
		"db_host", cfg.DB.Host,
		"db_port", cfg.DB.Port,
		"redis_addr", cfg.Redis.Addr,
	)

	// 2. Connect to MariaDB with Retry Logic
	// Containers may not be ready immediately, so we retry
	db := connectMariaDB(cfg.DB, 5, 2*time.Second)
	defer db.Close()
	slog.Info("MariaDB connection established")

	// 3. Connect to Redis with Retry Logic
	rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
	defer rdb.Close()
	slog.Info("Redis connection established")

	// ==================================================================
	// Repositories and Stores
	// ==================================================================
	mariadbRepo := repository.NewMariaDBRepository(db)
	queueStore := repository.NewRedisQueueStore(rdb, cfg.Dispatch.QueueTTL)
	rateLimiter := repository.NewRedisRateLimiter(rdb, int64(cfg.Dispatch.RateLimit), cfg.Dispatch.RateWindow)
	presenceStore := repository.NewRedisPresenceStore(rdb, cfg.Dispatch.PresenceTTL)
	sessionStore := repository.NewRedisSessionStore(rdb, cfg.Widget.SessionTTL)
	captchaStore := repository.NewRedisCaptchaStore(rdb, cfg.Widget.CaptchaTTL)
	abuseGuard := repository.NewRedisAbuseGuard(rdb, int64(cfg.Widget.AbuseThreshold), cfg.Widget.AbuseWindow)

	// ==================================================================
	// Core Services
	// ==================================================================
	dispatcher := services.NewDispatcher()
	defer dispatcher.Close()

	presence := services.NewPresence(presenceStore, mariadbRepo, dispatcher)
	router := services.NewRouter(queueStore, rateLimiter, presence, mariadbRepo, mariadbRepo, dispatcher)
	escalator := services.NewEscalator(mariadbRepo, router, rateLimiter, dispatcher, services.EscalatorConfig{
		Interval: cfg.Dispatch.EscalationInterval,
		Timeout:  cfg.Dispatch.EscalationTimeout,
	})
	gateway := services.NewGateway(
		mariadbRepo,
		mariadbRepo,
		mariadbRepo,
		mariadbRepo,
		sessionStore,
		captchaStore,
		abuseGuard,
		router,
		dispatcher,
	)
	console := services.NewConsole(mariadbRepo, mariadbRepo, dispatcher)

	// ==================================================================
	// Adapters
	// ==================================================================
	broker := handler.NewStreamBroker(dispatcher)

	widgetHandler := handler.NewWidgetHandler(gateway, broker, handler.WidgetHandlerConfig{
		StreamIdleLimit: cfg.Widget.StreamIdle,
		PerIPRPS:        cfg.Widget.RequestRate,
		PerIPBurst:      cfg.Widget.RequestBurst,
	})
	adminHandler := handler.NewAdminHandler(router, presence, escalator, console, cfg.App.Secret)
	dashboardHandler := handler.NewDashboardHandler(db, rdb, broker, cfg.App.Secret)

	agentHub := ws.NewAgentHub(dispatcher, cfg.App.Secret)
	go agentHub.Run()

	// Root context cancelled on shutdown; stops the escalation scanner
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	escalator.Start(rootCtx)

	// ==================================================================
	// Routes
	// ==================================================================
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"code":200,"message":"Live chat dispatch core is running","data":null}`)
	}).Methods(http.MethodGet)

	// Widget surface
	r.HandleFunc("/widget/bootstrap", widgetHandler.HandleBootstrap).Methods(http.MethodPost)
	r.HandleFunc("/widget/send", widgetHandler.HandleSend).Methods(http.MethodPost)
	r.HandleFunc("/widget/poll", widgetHandler.HandlePoll).Methods(http.MethodGet)
	r.HandleFunc("/widget/stream", widgetHandler.HandleStream).Methods(http.MethodGet)

	// Admin surface (secret-gated)
	r.HandleFunc("/admin/agents/online", adminHandler.HandleOnlineAgents).Methods(http.MethodGet)
	r.HandleFunc("/admin/agents/{id}/presence", adminHandler.HandleSetPresence).Methods(http.MethodPost)
	r.HandleFunc("/admin/inboxes/{id}/queue", adminHandler.HandleQueueSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/admin/inboxes/{id}/queue/add", adminHandler.HandleQueueAdd).Methods(http.MethodPost)
	r.HandleFunc("/admin/inboxes/{id}/queue/remove", adminHandler.HandleQueueRemove).Methods(http.MethodPost)
	r.HandleFunc("/admin/inboxes/{id}/queue/reset", adminHandler.HandleQueueReset).Methods(http.MethodPost)
	r.HandleFunc("/admin/escalations/run", adminHandler.HandleEscalationRun).Methods(http.MethodPost)
	r.HandleFunc("/admin/conversations/{id}/reply", adminHandler.HandleReply).Methods(http.MethodPost)
	r.HandleFunc("/admin/conversations/{id}/{action}", adminHandler.HandleTransition).Methods(http.MethodPost)

	// Agent console feed
	r.HandleFunc("/ws/console", agentHub.ServeWS)

	// Ops dashboard (secret-gated)
	r.HandleFunc("/admin/dashboard/metrics", dashboardHandler.HandleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/admin/dashboard/dispatch", dashboardHandler.HandleDispatchStats).Methods(http.MethodGet)

	// ==================================================================
	// HTTP server with graceful shutdown
	// ==================================================================
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open past any fixed write deadline
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("Shutdown signal received, draining")
	cancel() // stop the escalation scanner

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	slog.Info("Server stopped")
}

// connectMariaDB attempts to connect to MariaDB with retry logic.
// Retries are necessary because containers may still be initializing.
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			slog.Warn("Failed to configure DB driver", "attempt", i, "max", maxRetries, "error", err)
			time.Sleep(retryDelay)
			continue
		}

		// Test the connection with Ping
		err = db.Ping()
		if err == nil {
			return db
		}

		slog.Warn("Cannot ping MariaDB", "attempt", i, "max", maxRetries, "error", err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to MariaDB after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb
		}

		slog.Warn("Cannot ping Redis", "attempt", i, "max", maxRetries, "error", err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}
