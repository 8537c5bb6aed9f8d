// Package server exposes the notification engine over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrovault/notify/internal/dispatch"
	"github.com/agrovault/notify/internal/logging"
	"github.com/agrovault/notify/internal/ratelimit"
)

type Server struct {
	engine  *dispatch.Engine
	limiter *ratelimit.Limiter
	addr    string

	httpSrv *http.Server
}

func New(addr string, engine *dispatch.Engine, limiter *ratelimit.Limiter) *Server {
	return &Server{
		engine:  engine,
		limiter: limiter,
		addr:    addr,
	}
}

// Router builds the gin engine with all routes and middleware attached.
// Split out from Run so tests can drive it with httptest.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.health)

	v1 := router.Group("/v1")
	{
		notifications := v1.Group("/notifications")
		notifications.Use(s.rateLimit("default"))
		{
			notifications.POST("", s.createNotification)
			notifications.GET("/:id", s.getNotification)
			notifications.POST("/:id/confirm", s.confirmNotification)
		}

		// Bulk fan-out is far more expensive per call, so it runs
		// under the tighter policy.
		bulk := v1.Group("/notifications/bulk")
		bulk.Use(s.rateLimit("strict"))
		{
			bulk.POST("", s.createBulkNotification)
		}

		schedules := v1.Group("/schedules")
		schedules.Use(s.rateLimit("default"))
		{
			schedules.POST("", s.createSchedule)
			schedules.DELETE("/:id", s.cancelSchedule)
		}

		webhooks := v1.Group("/webhooks")
		webhooks.Use(s.rateLimit("default"))
		{
			webhooks.GET("/:id", s.getWebhookDelivery)
			webhooks.DELETE("/:id", s.cancelWebhookDelivery)
		}
	}
	return router
}

// Run serves HTTP until ctx is cancelled, then drains with a grace
// period.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("code", "SRV_START"), slog.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("http server shutting down", slog.String("code", "SRV_STOP"))
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.FromContext(c.Request.Context()).Info("http request",
			slog.String("code", "SRV_REQ"),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
