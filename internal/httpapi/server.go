// Package httpapi serves the review workflow over HTTP: processing documents,
// listing them, applying reviewer decisions and reading the dashboard.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loandocs/internal/documents"
	"loandocs/internal/domain"
	"loandocs/internal/export"
	"loandocs/internal/pipeline"
	"loandocs/internal/review"
)

// DefaultStatsWindow bounds correction statistics when the request does not.
const DefaultStatsWindow = 30 * 24 * time.Hour

type Processor interface {
	Process(ctx context.Context, location string) (*pipeline.Result, error)
}

type CorrectionStats interface {
	CorrectionStats(ctx context.Context, since time.Time) ([]domain.CorrectionStat, error)
}

type Server struct {
	echo      *echo.Echo
	session   *review.Session
	processor Processor
	stats     CorrectionStats
	logger    *zap.Logger
	addr      string
	now       func() time.Time
}

// NewServer wires the routes. stats may be nil, in which case the dashboard
// omits correction counts and /corrections returns 503.
func NewServer(session *review.Session, processor Processor, stats CorrectionStats, logger *zap.Logger, addr string) (*Server, error) {
	if session == nil {
		return nil, fmt.Errorf("review session cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", documents.MaxSize>>20+1)))
	e.Use(metricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		session:   session,
		processor: processor,
		stats:     stats,
		logger:    logger,
		addr:      addr,
		now:       time.Now,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/documents", s.handleListDocuments)
	v1.POST("/documents", s.handleProcess)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.POST("/documents/:id/review", s.handleReview)
	v1.GET("/dashboard", s.handleDashboard)
	v1.GET("/dashboard/export", s.handleExport)
	v1.GET("/corrections", s.handleCorrections)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleListDocuments lists documents; ?status=pending limits the list to
// unreviewed ones.
func (s *Server) handleListDocuments(c echo.Context) error {
	switch c.QueryParam("status") {
	case "":
		return c.JSON(http.StatusOK, nonNil(s.session.Documents()))
	case "pending":
		return c.JSON(http.StatusOK, nonNil(s.session.Pending()))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be empty or 'pending'")
	}
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.session.Get(c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleProcess(c echo.Context) error {
	location, cleanup, err := s.spoolUpload(c)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := s.processor.Process(c.Request().Context(), location)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, s.session.Add(res))
}

// spoolUpload writes the multipart "file" part to a temp file that cleanup
// removes. Only uploads are accepted: the API never opens server-side paths
// or fetches URLs on behalf of a caller.
func (s *Server) spoolUpload(c echo.Context) (string, func(), error) {
	noop := func() {}
	fh, err := c.FormFile("file")
	if err != nil {
		s.logger.Warn("invalid process request", zap.Error(err))
		return "", noop, echo.NewHTTPError(http.StatusBadRequest, "multipart upload with a 'file' part is required")
	}
	src, err := fh.Open()
	if err != nil {
		return "", noop, echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	dir, err := os.MkdirTemp("", "loandocs-upload-")
	if err != nil {
		return "", noop, fmt.Errorf("spooling upload: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload.pdf"
	}
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("spooling upload: %w", err)
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("spooling upload: %w", err)
	}
	return path, cleanup, nil
}

func (s *Server) handleReview(c echo.Context) error {
	var decision review.Decision
	if err := c.Bind(&decision); err != nil {
		s.logger.Warn("invalid review request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if decision.DocumentType != "" && !domain.ParseDocumentType(string(decision.DocumentType)).Known() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown document type %q", decision.DocumentType))
	}
	doc, err := s.session.Apply(c.Request().Context(), c.Param("id"), decision)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDashboard(c echo.Context) error {
	d, err := s.dashboard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleExport(c echo.Context) error {
	d, err := s.dashboard(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, d, s.session.Documents()); err != nil {
		return s.httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.FileName(d)))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (s *Server) handleCorrections(c echo.Context) error {
	if s.stats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "correction store not configured")
	}
	since, err := s.since(c)
	if err != nil {
		return err
	}
	stats, err := s.stats.CorrectionStats(c.Request().Context(), since)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, nonNil(stats))
}

func (s *Server) dashboard(c echo.Context) (review.Dashboard, error) {
	d := s.session.Dashboard(s.now())
	if s.stats == nil {
		return d, nil
	}
	since, err := s.since(c)
	if err != nil {
		return d, err
	}
	stats, err := s.stats.CorrectionStats(c.Request().Context(), since)
	if err != nil {
		// The dashboard stays useful without the store.
		s.logger.Warn("dashboard correction stats", zap.Error(err))
		return d, nil
	}
	d.Corrections = stats
	return d, nil
}

// since reads ?days=N (default 30).
func (s *Server) since(c echo.Context) (time.Time, error) {
	window := DefaultStatsWindow
	if raw := c.QueryParam("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		window = time.Duration(days) * 24 * time.Hour
	}
	return s.now().Add(-window), nil
}

// httpError maps domain errors to status codes.
func (s *Server) httpError(err error) error {
	var status int
	switch {
	case errors.Is(err, review.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrAlreadyReviewed), errors.Is(err, review.ErrTypeLocked):
		status = http.StatusConflict
	case errors.Is(err, documents.ErrUnreadable):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrModelInvocation):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return echo.NewHTTPError(status, err.Error())
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
