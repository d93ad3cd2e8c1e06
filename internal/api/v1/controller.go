// Package api serves the coldwatch HTTP API under /api/v1 together with
// /healthz and /metrics.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/coldwatch/coldwatch/internal/alerting"
	"github.com/coldwatch/coldwatch/internal/commands"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/notification"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 2 * time.Second
)

// Invalidator drops cached device lookups after a device or rule changes.
type Invalidator interface {
	Invalidate(device *entities.Device)
}

// Deps are the collaborators the API serves. Commands and Invalidator may be
// nil.
type Deps struct {
	DB           *gorm.DB
	Machine      *alerting.Machine
	Devices      repository.DeviceRepository
	Measurements repository.MeasurementRepository
	Tickets      repository.TicketRepository
	Rules        repository.AlertRuleRepository
	Dispatcher   *notification.Dispatcher
	Commands     *commands.Handler
	Invalidator  Invalidator
	Metrics      *metrics.Metrics
}

// Controller owns the echo instance and the route handlers.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	deps Deps
	log  logger.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// New creates a Controller and registers every route.
func New(deps Deps, log logger.Logger) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	c := &Controller{Echo: e, deps: deps, log: log.Module("api")}
	e.Use(middleware.Recover())
	e.Use(c.metricsMiddleware)

	e.GET("/healthz", c.Health)
	e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))

	c.Group = e.Group("/api/v1")
	c.initTicketRoutes()
	c.initDeviceRoutes()
	c.initNotificationRoutes()
	return c
}

// Run serves on listen until ctx is cancelled, then shuts down gracefully.
func (c *Controller) Run(ctx context.Context, listen string) error {
	errCh := make(chan error, 1)
	go func() {
		c.log.Info("http api listening", logger.String("listen", listen))
		if err := c.Echo.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Transport("http listen", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := c.Echo.Shutdown(shutdownCtx); err != nil {
		return errors.Transport("http shutdown", err)
	}
	c.log.Info("http api stopped")
	return nil
}

// Health reports whether the database answers.
func (c *Controller) Health(ctx echo.Context) error {
	status := map[string]any{"status": "ok"}
	if c.deps.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthTimeout)
		defer cancel()
		sqlDB, err := c.deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(pingCtx)
		}
		if err != nil {
			c.log.Warn("health check failed", logger.Error(err))
			return ctx.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		}
		status["database"] = c.deps.DB.Dialector.Name()
	}
	return ctx.JSON(http.StatusOK, status)
}

// HandleError logs err and writes an ErrorResponse.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	c.log.Error(message,
		logger.String("path", ctx.Path()),
		logger.Int("status", code),
		logger.Error(err))
	return ctx.JSON(code, ErrorResponse{Error: err.Error(), Message: message, Code: code})
}

// statusFor maps error categories to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (c *Controller) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)
		status := ctx.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		route := ctx.Path()
		if route == "" {
			route = "unmatched"
		}
		c.deps.Metrics.HTTPRequest(route, status, time.Since(start))
		return err
	}
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Validation("parse "+name, errors.NewPlain("invalid "+name))
	}
	return uint(v), nil
}
