// Package httpapi exposes code checks and registry management over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ncmcheck/internal/config"
	"ncmcheck/internal/dataset"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/pipeline"
)

const (
	maxUploadBytes  = 64 << 20
	maxBatchTexts   = 500
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	router  *gin.Engine
	server  *http.Server
	checker *pipeline.Checker
	sync    *dataset.SyncService
	store   *ncm.Store
	metrics *metrics.Metrics
	log     *zap.Logger

	loc        *time.Location
	batchLimit int
}

func New(cfg config.Config, store *ncm.Store, checker *pipeline.Checker, sync *dataset.SyncService, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LogDevelopment {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:     gin.New(),
		checker:    checker,
		sync:       sync,
		store:      store,
		metrics:    m,
		log:        log,
		loc:        cfg.Location(),
		batchLimit: cfg.BatchConcurrency,
	}
	s.router.Use(recoveryMiddleware(log), requestIDMiddleware(), loggerMiddleware(log))
	s.routes()

	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.POST("/check", s.check)
	v1.POST("/check/batch", s.checkBatch)
	v1.GET("/registry", s.registryInfo)
	v1.GET("/registry/codes/:code", s.lookupCode)
	v1.PUT("/registry", s.uploadRegistry)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	// ctx is already done, so shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return <-errCh
}
