// Package httpapi exposes the listing store and crawl triggers over a small
// JSON API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/db"
	"citypulse.fyi/citypulse/internal/globaltime"
	"citypulse.fyi/citypulse/internal/ingest"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
	defaultWindowDays = 30
	maxWindowDays     = 365
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TBAGraceDays    int
}

type Server struct {
	pool   *db.Pool
	ingest *ingest.Service
	logger zerolog.Logger
	opts   Options
}

func NewServer(pool *db.Pool, ingestService *ingest.Service, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8091
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// Crawl triggers run inline, so responses can take a while.
		writeTimeout = 5 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	graceDays := opts.TBAGraceDays
	if graceDays < 0 {
		graceDays = 0
	}

	return &Server{
		pool:   pool,
		ingest: ingestService,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			TBAGraceDays:    graceDays,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("citypulse api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("citypulse api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/events", s.handleEvents)
	api.GET("/sources", s.handleSources)
	api.POST("/sources/:slug/crawl", s.handleCrawl)
	api.POST("/sweep", s.handleSweep)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "citypulse",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pool.QueryListingStats(c.Request().Context(), globaltime.Today())
	if err != nil {
		s.logger.Error().Err(err).Msg("query listing stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleEvents(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultEventLimit, 1, maxEventLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	days, err := parsePositiveInt(c.QueryParam("days"), defaultWindowDays, 1, maxWindowDays)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}

	from := globaltime.Today()
	if raw := strings.TrimSpace(c.QueryParam("from")); raw != "" {
		parsed, parseErr := time.Parse("2006-01-02", raw)
		if parseErr != nil {
			return failValidation(c, map[string]string{"from": "must be YYYY-MM-DD"})
		}
		from = parsed
	}

	includeInactive := strings.EqualFold(strings.TrimSpace(c.QueryParam("include_inactive")), "true")

	items, err := s.pool.ListEvents(c.Request().Context(), db.EventListOptions{
		SourceSlug: c.QueryParam("source"),
		From:       from,
		To:         from.AddDate(0, 0, days),
		ActiveOnly: !includeInactive,
		Limit:      limit,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("query events failed")
		return internalError(c, "Failed to load events")
	}

	return success(c, map[string]any{
		"items": items,
		"from":  from.Format("2006-01-02"),
		"days":  days,
	})
}

func (s *Server) handleSources(c echo.Context) error {
	activeOnly := strings.EqualFold(strings.TrimSpace(c.QueryParam("active")), "true")
	sources, err := s.pool.ListSources(c.Request().Context(), activeOnly)
	if err != nil {
		s.logger.Error().Err(err).Msg("query sources failed")
		return internalError(c, "Failed to load sources")
	}

	items := make([]map[string]any, 0, len(sources))
	for _, src := range sources {
		items = append(items, map[string]any{
			"slug":               src.Slug,
			"name":               src.Name,
			"url":                src.URL,
			"source_type":        src.SourceType,
			"is_active":          src.IsActive,
			"crawl_frequency":    src.CrawlFrequency,
			"integration_method": src.IntegrationMethod,
			"portal":             src.Portal,
		})
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleCrawl(c echo.Context) error {
	slug := strings.TrimSpace(strings.ToLower(c.Param("slug")))
	if slug == "" {
		return failValidation(c, map[string]string{"slug": "is required"})
	}

	dryRun := strings.EqualFold(strings.TrimSpace(c.QueryParam("dry_run")), "true")
	limit, err := parsePositiveInt(c.QueryParam("limit"), 0, 0, 10_000)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	if s.ingest == nil {
		return internalError(c, "Crawling is not enabled on this server")
	}

	result, err := s.ingest.Run(c.Request().Context(), ingest.RunOptions{
		SourceSlug: slug,
		DryRun:     dryRun,
		Limit:      limit,
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return failNotFound(c, fmt.Sprintf("Source %q not found", slug))
		}
		s.logger.Error().Err(err).Str("source", slug).Msg("crawl failed")
		return internalError(c, "Crawl failed")
	}
	return success(c, result)
}

func (s *Server) handleSweep(c echo.Context) error {
	graceDays := s.opts.TBAGraceDays
	if raw := strings.TrimSpace(c.QueryParam("grace_days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return failValidation(c, map[string]string{"grace_days": "must be a non-negative integer"})
		}
		graceDays = parsed
	}

	affected, err := s.pool.DeactivateTBAEvents(c.Request().Context(), globaltime.UTC(), graceDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("staleness sweep failed")
		return internalError(c, "Sweep failed")
	}
	return success(c, map[string]any{
		"deactivated": affected,
		"grace_days":  graceDays,
	})
}

func parsePositiveInt(raw string, fallback, min, max int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < min || value > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return value, nil
}
