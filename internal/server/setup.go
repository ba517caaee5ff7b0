// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mobiletoly/go-billsync/billsync"
	"github.com/mobiletoly/go-billsync/internal/config"
	"github.com/mobiletoly/go-billsync/internal/metrics"
	"github.com/mobiletoly/go-billsync/internal/postgres"
)

const serviceName = "go-billsync"

// ServerConfig holds configuration for the server
type ServerConfig struct {
	Pool      *pgxpool.Pool         // Existing pool; when nil one is created from Database
	Database  config.DatabaseConfig // Used when Pool is nil
	JWTSecret string
	TokenTTL  time.Duration // Lifetime of tokens issued by /dummy-signin
	Sync      *billsync.ServiceConfig
	DevSignin bool // Register POST /dummy-signin
	LogBodies bool // Log small request bodies
	Logger    *slog.Logger
	AppName   string
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool        *pgxpool.Pool
	SyncService *billsync.SyncService
	JWTAuth     *billsync.JWTAuth
	Metrics     *metrics.Recorder
	Registry    *prometheus.Registry
	Handler     http.Handler
	Logger      *slog.Logger
	ownsPool    bool
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// HandlerOptions configures NewHandler
type HandlerOptions struct {
	DevSignin bool
	TokenTTL  time.Duration
	LogBodies bool
}

// SetupServer initializes all server components (database, sync service, handlers)
// This is the shared logic used by the serve command and tests
func SetupServer(ctx context.Context, cfg *ServerConfig) (*ServerComponents, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}

	serviceConfig := cfg.Sync
	if serviceConfig == nil {
		serviceConfig = billsync.DefaultServiceConfig()
	}
	if cfg.AppName != "" {
		serviceConfig.AppName = cfg.AppName
	}

	pool := cfg.Pool
	ownsPool := false
	if pool == nil {
		var err error
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		ownsPool = true
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)
	serviceConfig.StageMetrics = recorder

	syncService, err := billsync.NewSyncService(pool, serviceConfig, logger)
	if err != nil {
		if ownsPool {
			pool.Close()
		}
		return nil, err
	}

	jwtAuth := billsync.NewJWTAuth(cfg.JWTSecret)
	handler := NewHandler(syncService, jwtAuth, registry, HandlerOptions{
		DevSignin: cfg.DevSignin,
		TokenTTL:  cfg.TokenTTL,
		LogBodies: cfg.LogBodies,
	}, logger)

	logger.Info("Server components initialized",
		"app", serviceConfig.AppName,
		"max_batch_size", serviceConfig.MaxBatchSize,
		"principal_lock", serviceConfig.SerializePrincipal,
		"dev_signin", cfg.DevSignin,
	)

	return &ServerComponents{
		Pool:        pool,
		SyncService: syncService,
		JWTAuth:     jwtAuth,
		Metrics:     recorder,
		Registry:    registry,
		Handler:     handler,
		Logger:      logger,
		ownsPool:    ownsPool,
	}, nil
}

// NewHandler wires the HTTP routes and the middleware chain.
func NewHandler(service *billsync.SyncService, jwtAuth *billsync.JWTAuth, registry *prometheus.Registry, opts HandlerOptions, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	syncHandlers := billsync.NewHTTPSyncHandlers(service, jwtAuth, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HandleHealth)
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	if opts.DevSignin {
		ttl := opts.TokenTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		mux.HandleFunc("POST /dummy-signin", dummySignin(jwtAuth, ttl, logger))
	}
	mux.Handle("POST /sync/queue", jwtAuth.Middleware(http.HandlerFunc(syncHandlers.HandleSubmit)))
	mux.Handle("GET /bills", jwtAuth.Middleware(http.HandlerFunc(syncHandlers.HandleListBills)))

	return RequestID(Recovery(logger)(LoggingMiddleware(opts.LogBodies, mux, logger)))
}

// dummySignin returns a JWT for the provided user/device; any password is accepted
func dummySignin(jwtAuth *billsync.JWTAuth, ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	type signinReq struct {
		User     string `json:"user"`
		Password string `json:"password"`
		Device   string `json:"device"`
	}
	type signinResp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
		User      string `json:"user"`
		Device    string `json:"device"`
	}
	writeErr := func(w http.ResponseWriter, status int, code, msg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req signinReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_request", "invalid JSON")
			return
		}
		if req.User == "" {
			writeErr(w, http.StatusBadRequest, "invalid_request", "user required")
			return
		}
		if req.Device == "" {
			req.Device = "device-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		tok, err := jwtAuth.GenerateToken(req.User, req.Device, ttl)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "token_error", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(signinResp{
			Token:     tok,
			ExpiresIn: int64(ttl / time.Second),
			User:      req.User,
			Device:    req.Device,
		})
		logger.Info("Generated dummy JWT", "user", req.User, "device", req.Device)
	}
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.SyncService != nil {
		_ = sc.SyncService.Close()
	}
	if sc.Pool != nil && sc.ownsPool {
		sc.Pool.Close()
	}
}

// ListenAndServe serves Handler on cfg's address until ctx is cancelled, then
// shuts down gracefully within cfg.ShutdownTimeout.
func (sc *ServerComponents) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      sc.Handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sc.Logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		sc.Logger.Info("Shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(ctx context.Context, cfg *ServerConfig) (*TestServer, error) {
	components, err := SetupServer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a JWT token for testing
func (ts *TestServer) GenerateToken(userID, deviceID string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(userID, deviceID, duration)
}

// HandleHealth provides a simple health check endpoint
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"` + serviceName + `"}`))
}
