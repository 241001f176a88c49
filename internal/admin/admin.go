// Package admin exposes read-only server state over HTTP.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheerbytes/segflux/internal/session"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	shutdownTimeout  = 5 * time.Second
)

// Source is the server state the API reports on.
type Source interface {
	History() session.History
	Stats() session.StatsSnapshot
}

// NewHandler builds the admin routes.
func NewHandler(src Source, logger *slog.Logger) http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	engine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Stats())
	})
	engine.GET("/sessions", func(c *gin.Context) {
		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = min(n, maxListLimit)
		}
		recs, err := src.History().List(c.Request.Context(), limit)
		if err != nil {
			logger.Warn("failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}
		if recs == nil {
			recs = []session.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": recs})
	})
	engine.GET("/sessions/:id", func(c *gin.Context) {
		rec, ok, err := src.History().Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			logger.Warn("failed to load session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})
	return engine
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// ServeListener runs the admin API on ln until ctx is cancelled.
func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
