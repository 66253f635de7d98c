package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/config"
	"github.com/GriffinCanCode/handsfree/internal/conversation"
	"github.com/GriffinCanCode/handsfree/internal/orchestrator"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// Controller is the part of the coordinator the control surface drives.
type Controller interface {
	Tap(ctx context.Context) error
	Cancel(ctx context.Context) error
	Reset(ctx context.Context) error
	Status() orchestrator.Status
	Conversation() conversation.Snapshot
	Subscribe() (<-chan orchestrator.Update, func())
}

// SettingsStore reads and replaces the per-turn settings.
type SettingsStore interface {
	Snapshot() config.Settings
	Replace(next config.Settings) error
}

// Server handles the HTTP control API and the /ws update stream.
type Server struct {
	ctrl     Controller
	settings SettingsStore
	origins  []string
	logger   *zap.Logger
	echo     *echo.Echo
}

// New creates a server.
func New(ctrl Controller, settings SettingsStore, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctrl:     ctrl,
		settings: settings,
		origins:  cfg.CORSOrigins,
		logger:   logger.Named("http"),
	}
	s.echo = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return trace.Middleware(s.echo)
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			trace.Logger(c.Request().Context(), s.logger).Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	e.GET("/ws", s.handleWebSocket)

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/tap", s.control("tap", s.ctrl.Tap))
	api.POST("/cancel", s.control("cancel", s.ctrl.Cancel))
	api.POST("/reset", s.control("reset", s.ctrl.Reset))
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)
	api.GET("/conversation", s.handleConversation)
	return e
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c echo.Context) error {
	st := s.ctrl.Status()
	code := http.StatusOK
	if !st.Running {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":  http.StatusText(code),
		"phase":   st.Phase,
		"running": st.Running,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleConversation(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Conversation())
}

// control adapts a coordinator action to a POST endpoint. The response
// carries the status after the action has been applied.
func (s *Server) control(name string, fn func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := trace.StartSpan(c.Request().Context(), "control_"+name)
		defer span.End()
		if err := fn(ctx); err != nil {
			span.SetAttr("error", err.Error())
			trace.Logger(ctx, s.logger).Warn("control action failed", zap.String("action", name), zap.Error(err))
			return c.JSON(controlStatus(err), errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, s.ctrl.Status())
	}
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// settingsBody is the wire form of config.Settings. Absent fields keep
// their current value on PUT.
type settingsBody struct {
	MinChunkScale  *float64 `json:"min_chunk_scale,omitempty"`
	MaxChunkLength *int     `json:"max_chunk_length,omitempty"`
	PlaybackSpeed  *float64 `json:"playback_speed,omitempty"`
	VADThreshold   *float64 `json:"vad_threshold,omitempty"`
	CooldownMS     *int64   `json:"cooldown_ms,omitempty"`
}

func toBody(s config.Settings) settingsBody {
	ms := s.Cooldown.Milliseconds()
	return settingsBody{
		MinChunkScale:  &s.MinChunkScale,
		MaxChunkLength: &s.MaxChunkLength,
		PlaybackSpeed:  &s.PlaybackSpeed,
		VADThreshold:   &s.VADThreshold,
		CooldownMS:     &ms,
	}
}

func (b settingsBody) apply(s config.Settings) config.Settings {
	if b.MinChunkScale != nil {
		s.MinChunkScale = *b.MinChunkScale
	}
	if b.MaxChunkLength != nil {
		s.MaxChunkLength = *b.MaxChunkLength
	}
	if b.PlaybackSpeed != nil {
		s.PlaybackSpeed = *b.PlaybackSpeed
	}
	if b.VADThreshold != nil {
		s.VADThreshold = *b.VADThreshold
	}
	if b.CooldownMS != nil {
		s.Cooldown = time.Duration(*b.CooldownMS) * time.Millisecond
	}
	return s
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, toBody(s.settings.Snapshot()))
}

func (s *Server) handlePutSettings(c echo.Context) error {
	var body settingsBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid settings body"})
	}
	next := body.apply(s.settings.Snapshot())
	if err := s.settings.Replace(next); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	trace.Logger(c.Request().Context(), s.logger).Info("settings replaced",
		zap.Float64("playback_speed", next.PlaybackSpeed),
		zap.Float64("vad_threshold", next.VADThreshold),
		zap.Duration("cooldown", next.Cooldown))
	return c.JSON(http.StatusOK, toBody(next))
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			out = append(out, strings.TrimSuffix(o, "/"))
		}
	}
	return out
}
