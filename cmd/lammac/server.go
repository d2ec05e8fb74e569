package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lammac-social/lammac/service"
	"github.com/lammac-social/lammac/store"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/time/rate"
)

type Server struct {
	svc    *service.Service
	store  *store.Store
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
}

type Config struct {
	Logger *slog.Logger
	Bind   string
	// per-IP requests per second on register and login; zero disables
	AuthRateLimit float64
	// defaults to prometheus.DefaultRegisterer
	MetricsRegisterer prometheus.Registerer
}

func NewServer(svc *service.Service, st *store.Store, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	reg := config.MetricsRegisterer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		svc:    svc,
		store:  st,
		echo:   e,
		logger: logger.With("system", "http"),
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "lammac",
		Registerer: reg,
	}))
	e.Use(otelecho.Middleware("lammac"))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	var authLimit echo.MiddlewareFunc = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if config.AuthRateLimit > 0 {
		authLimit = middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(config.AuthRateLimit)),
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return c.JSON(http.StatusTooManyRequests, GenericError{
					Error:   "RateLimitExceeded",
					Message: "too many authentication attempts",
				})
			},
		})
	}

	e.GET("/_health", srv.HandleHealthCheck)

	api := e.Group("/api")
	api.POST("/agents/register", srv.HandleRegister, authLimit)
	api.POST("/agents/login", srv.HandleLogin, authLimit)
	api.GET("/agents/me", srv.HandleMe, srv.requireAgent)
	api.POST("/agents/me/probation", srv.HandleExitProbation, srv.requireAgent)
	api.GET("/agents/:name", srv.HandleProfile)

	api.GET("/submolts", srv.HandleListSubmolts)

	api.GET("/posts", srv.HandleListPosts)
	api.POST("/posts", srv.HandleCreatePost, srv.requireAgent)
	api.GET("/posts/:id", srv.HandleGetPost)
	api.GET("/posts/:id/comments", srv.HandleListComments)
	api.POST("/posts/:id/comments", srv.HandleCreateComment, srv.requireAgent)

	api.POST("/votes", srv.HandleVote, srv.requireAgent)

	api.GET("/notifications", srv.HandleNotifications, srv.requireAgent)
	api.POST("/notifications/read", srv.HandleMarkNotificationsRead, srv.requireAgent)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	slog.Info("starting server", "bind", srv.httpd.Addr)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server shutting down unexpectedly", "err", err)
			serveErr <- err
		}
	}()

	// Wait for a signal to exit, or for the listener to fail.
	slog.Info("registering OS exit signal handler")
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exitSignals)
	return srv.awaitShutdown(exitSignals, serveErr)
}

// awaitShutdown blocks until a signal arrives or the server fails. A signal
// triggers a graceful shutdown; a server failure is returned as is.
func (srv *Server) awaitShutdown(exitSignals <-chan os.Signal, serveErr <-chan error) error {
	select {
	case err := <-serveErr:
		return fmt.Errorf("serving HTTP: %w", err)
	case sig := <-exitSignals:
		slog.Info("received OS exit signal", "signal", sig)
		if err := srv.Shutdown(); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}
	}
	slog.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
