// Package httpapi exposes the screening pipeline over HTTP. Starting or
// resuming a screening streams progress events over SSE until the run
// completes, pauses, or the client disconnects.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/globaltime"
	"horse.fit/amscreen/internal/pipeline"
	"horse.fit/amscreen/internal/progress"
	"horse.fit/amscreen/internal/session"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	service *pipeline.Service
	logger  zerolog.Logger
	opts    Options
}

func NewServer(service *pipeline.Service, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8084
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	// SSE streams stay open for the whole run.
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		service: service,
		logger:  logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.service == nil {
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

	s.logger.Info().Str("addr", addr).Msg("amscreen api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("amscreen api server stopped")
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
	api.POST("/screenings", s.handleStartScreening)
	api.GET("/screenings", s.handleListScreenings)
	api.GET("/screenings/:session_id", s.handleScreeningStatus)
	api.GET("/screenings/:session_id/result", s.handleScreeningResult)
	api.POST("/screenings/:session_id/pause", s.handlePauseScreening)
	api.POST("/screenings/:session_id/resume", s.handleResumeScreening)

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
		"service": "amscreen",
		"time":    globaltime.UTC(),
	})
}

type startScreeningRequest struct {
	SessionID    string   `json:"session_id"`
	SubjectName  string   `json:"subject_name"`
	NameVariants []string `json:"name_variants"`
	LanguageMode string   `json:"language_mode"`
}

func (s *Server) handleStartScreening(c echo.Context) error {
	var req startScreeningRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	if strings.TrimSpace(req.SubjectName) == "" && strings.TrimSpace(req.SessionID) == "" {
		return failValidation(c, map[string]string{"subject_name": "is required"})
	}
	if req.LanguageMode != "" && req.LanguageMode != "zh" && req.LanguageMode != "en" {
		return failValidation(c, map[string]string{"language_mode": "must be zh or en"})
	}

	sess, err := s.service.StartOrResume(c.Request().Context(), pipeline.StartRequest{
		SubjectName:  req.SubjectName,
		NameVariants: req.NameVariants,
		LanguageMode: req.LanguageMode,
	}, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return failNotFound(c, "Screening not found")
		}
		s.logger.Error().Err(err).Msg("create screening session failed")
		return internalError(c, "Failed to create screening")
	}

	return s.streamRun(c, sess.SessionID)
}

func (s *Server) handleResumeScreening(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		return failValidation(c, map[string]string{"session_id": "is required"})
	}

	// The body is optional; a subject name in it lets a lost or corrupted
	// checkpoint fall back to a fresh screening instead of a 404.
	var req startScreeningRequest
	_ = c.Bind(&req)

	sess, err := s.service.StartOrResume(c.Request().Context(), pipeline.StartRequest{
		SubjectName:  req.SubjectName,
		NameVariants: req.NameVariants,
		LanguageMode: req.LanguageMode,
	}, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return failNotFound(c, "Screening not found")
		}
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("resume screening failed")
		return internalError(c, "Failed to resume screening")
	}

	return s.streamRun(c, sess.SessionID)
}

// streamRun executes the session in a goroutine and relays its progress as
// SSE until the run ends or the client goes away. Client disconnect cancels
// the run at its next safe point; the session stays resumable.
func (s *Server) streamRun(c echo.Context, sessionID string) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	sink := progress.NewChannelSink(256)
	runDone := make(chan error, 1)
	go func() {
		err := s.service.Run(c.Request().Context(), sessionID, sink)
		sink.Close()
		runDone <- err
	}()

	for event := range sink.Events() {
		if err := writeSSE(resp, event); err != nil {
			// Client is gone; drain so the producer never blocks, then let
			// the request context cancellation stop the run.
			for range sink.Events() {
			}
			break
		}
	}

	if err := <-runDone; err != nil && !errors.Is(err, pipeline.ErrPaused) && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("screening run failed")
	}
	return nil
}

func writeSSE(resp *echo.Response, event progress.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (s *Server) handleListScreenings(c echo.Context) error {
	summaries, err := s.service.Sessions(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list screenings failed")
		return internalError(c, "Failed to list screenings")
	}
	return success(c, map[string]any{
		"items": summaries,
	})
}

func (s *Server) handleScreeningStatus(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		return failValidation(c, map[string]string{"session_id": "is required"})
	}

	summary, err := s.service.Status(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return failNotFound(c, "Screening not found")
		}
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("screening status failed")
		return internalError(c, "Failed to load screening status")
	}
	return success(c, summary)
}

func (s *Server) handleScreeningResult(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		return failValidation(c, map[string]string{"session_id": "is required"})
	}

	sess, err := s.service.Result(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return failNotFound(c, "Screening not found")
		}
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("screening result failed")
		return internalError(c, "Failed to load screening result")
	}

	return success(c, map[string]any{
		"session_id":   sess.SessionID,
		"subject_name": sess.SubjectName,
		"phase":        sess.Phase,
		"completed_at": sess.CompletedAt,
		"findings":     sess.Consolidated,
		"parked":       sess.Parked,
		"clusters":     sess.Clusters,
	})
}

func (s *Server) handlePauseScreening(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		return failValidation(c, map[string]string{"session_id": "is required"})
	}

	if err := s.service.Pause(c.Request().Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return failNotFound(c, "Screening not found")
		}
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("pause screening failed")
		return internalError(c, "Failed to pause screening")
	}
	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"session_id": sessionID,
		"paused":     true,
	})
}
