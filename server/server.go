package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/agentmemory/internal/profile"
	"github.com/hrygo/agentmemory/server/middleware"
	embeddingrunner "github.com/hrygo/agentmemory/server/runner/embedding"
	"github.com/hrygo/agentmemory/store"
	"github.com/hrygo/agentmemory/store/cache"
)

const statisticsCacheKey = "statistics"

// Server is the admin HTTP server in front of a memory store. It also owns the
// background cleanup job and the optional re-embedding runner.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer      *echo.Echo
	statsCache      *cache.Cache
	registry        *prometheus.Registry
	cleanupJob      *store.CleanupJob
	embeddingRunner *embeddingrunner.Runner

	runnerCancelFuncs []context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry exposes registry on GET /metrics.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithEmbeddingRunner runs r in the background while the server is up.
func WithEmbeddingRunner(r *embeddingrunner.Runner) Option {
	return func(s *Server) {
		s.embeddingRunner = r
	}
}

// NewServer creates the admin server. The store must already be initialized.
func NewServer(_ context.Context, profile *profile.Profile, storeInstance *store.Store, opts ...Option) (*Server, error) {
	statsCache, err := cache.New(cache.Config{MaxItems: 16, DefaultTTL: profile.StatisticsCacheTTL})
	if err != nil {
		return nil, err
	}

	s := &Server{
		Profile:    profile,
		Store:      storeInstance,
		statsCache: statsCache,
	}
	for _, opt := range opts {
		opt(s)
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(middleware.NewRateLimiter(10, 20).Middleware())
	s.echoServer = echoServer

	echoServer.GET("/healthz", s.handleHealth)
	apiGroup := echoServer.Group("/api/v1")
	apiGroup.GET("/statistics", s.handleStatistics)
	apiGroup.POST("/cleanup", s.handleCleanup)
	if s.registry != nil {
		echoServer.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	s.cleanupJob = store.NewCleanupJob(storeInstance, profile.CleanupInterval)
	return s, nil
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echoServer.ServeHTTP(w, r)
}

// Start binds the listener, starts background work and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	address := net.JoinHostPort(s.Profile.Addr, strconv.Itoa(s.Profile.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener

	s.StartBackgroundRunners(ctx)

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	slog.Info("admin server started", "address", listener.Addr().String())
	return nil
}

// StartBackgroundRunners starts the cleanup job and, when configured, the
// re-embedding runner.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	if err := s.cleanupJob.Start(runnerCtx); err != nil {
		slog.Error("failed to start cleanup job", "error", err)
	}
	if s.embeddingRunner != nil {
		go s.embeddingRunner.Run(runnerCtx)
	}
}

// Shutdown stops background work, drains HTTP requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, cancelFunc := range s.runnerCancelFuncs {
		cancelFunc()
	}
	s.cleanupJob.Stop()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	s.statsCache.Close()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("admin server stopped")
}

func (s *Server) handleHealth(c echo.Context) error {
	status := s.Store.CheckHealth(c.Request().Context())
	if !status.Connected {
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleStatistics(c echo.Context) error {
	value, hit, err := s.statsCache.GetOrFetch(c.Request().Context(), statisticsCacheKey, func(ctx context.Context, _ string) (any, error) {
		return s.Store.GetStatistics(ctx)
	})
	if err != nil {
		return errorResponse(c, err)
	}
	if hit {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return c.JSON(http.StatusOK, value)
}

type cleanupResponse struct {
	*store.CleanupResult
	Total int64  `json:"total"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleCleanup reports the counts of the rules that succeeded even when
// another rule failed.
func (s *Server) handleCleanup(c echo.Context) error {
	result, err := s.cleanupJob.RunOnce(c.Request().Context())
	if result == nil {
		return errorResponse(c, err)
	}
	s.statsCache.Delete(statisticsCacheKey)
	response := cleanupResponse{CleanupResult: result, Total: result.Total()}
	if err != nil {
		code := store.GetCodeFromError(err, store.ErrCodeQuery)
		response.Code = string(code)
		response.Error = err.Error()
		return c.JSON(httpStatus(code), response)
	}
	return c.JSON(http.StatusOK, response)
}

func errorResponse(c echo.Context, err error) error {
	code := store.GetCodeFromError(err, store.ErrCodeQuery)
	return c.JSON(httpStatus(code), map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

func httpStatus(code store.ErrorCode) int {
	switch code {
	case store.ErrCodeValidation:
		return http.StatusBadRequest
	case store.ErrCodeNotFound:
		return http.StatusNotFound
	case store.ErrCodeNotInitialized, store.ErrCodeConnection, store.ErrCodePoolExhausted:
		return http.StatusServiceUnavailable
	case store.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
