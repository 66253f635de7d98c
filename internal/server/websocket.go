package server

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/handsfree/internal/orchestrator"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// Inbound /ws message. Type is one of tap, cancel, reset.
type inboundMessage struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

type statusMessage struct {
	Type   string              `json:"type"`
	Status orchestrator.Status `json:"status"`
}

type ackMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	r := c.Request()
	conn, err := websocket.Accept(c.Response(), r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.origins),
	})
	if err != nil {
		s.logger.Error("websocket accept error", zap.Error(err))
		return nil
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx, s.logger)
	log.Info("websocket connected", zap.String("remote", r.RemoteAddr))

	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	write := func(v any) error {
		wctx, wcancel := context.WithTimeout(ctx, WSWriteTimeout)
		defer wcancel()
		return wsjson.Write(wctx, conn, v)
	}
	if err := write(statusMessage{Type: "status", Status: s.ctrl.Status()}); err != nil {
		return nil
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if err := write(u); err != nil {
					log.Debug("websocket write error", zap.Error(err))
					return
				}
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(WSRateLimit), WSRateBurst)
	for {
		var msg inboundMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", zap.Error(err))
			return nil
		}
		if !limiter.Allow() {
			log.Warn("rate limit exceeded", zap.String("remote", r.RemoteAddr))
			_ = write(errorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		actx := ctx
		if msg.TraceID != "" {
			actx = trace.WithContext(ctx, trace.NewChild(trace.Context{TraceID: msg.TraceID}))
		}

		var action func(context.Context) error
		switch msg.Type {
		case "tap":
			action = s.ctrl.Tap
		case "cancel":
			action = s.ctrl.Cancel
		case "reset":
			action = s.ctrl.Reset
		default:
			_ = write(errorMessage{Type: "error", Message: "unknown message type: " + msg.Type})
			continue
		}
		if err := action(actx); err != nil {
			trace.Logger(actx, s.logger).Warn("control action failed", zap.String("action", msg.Type), zap.Error(err))
			_ = write(errorMessage{Type: "error", Message: err.Error()})
			continue
		}
		_ = write(ackMessage{Type: "ack", Action: msg.Type})
	}
}
