package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/supportline/internal/auth"
	"github.com/vovakirdan/supportline/internal/config"
	"github.com/vovakirdan/supportline/internal/core"
	"github.com/vovakirdan/supportline/internal/metrics"
	"github.com/vovakirdan/supportline/internal/proto"
)

const rateWindow = time.Minute

// errReleased ends a connection whose client the hub has dropped.
var errReleased = errors.New("client released by hub")

// WSHandler authenticates, upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub            Hub
	auth           *auth.Service
	log            *zerolog.Logger
	rateLimit      int
	originPatterns []string
	clock          clock.Clock
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:            hub,
		auth:           authService,
		log:            logger,
		rateLimit:      cfg.RateLimit,
		originPatterns: cfg.AllowedOrigins,
		clock:          clock.New(),
	}
}

func writeJSONError(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(proto.ErrorResponse{Error: msg})
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSONError(w, stdhttp.StatusUnauthorized, "invalid authorization header format")
		return
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeJSONError(w, stdhttp.StatusUnauthorized, "missing credential")
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected")
		writeJSONError(w, stdhttp.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.originPatterns) == 0,
		OriginPatterns:     h.originPatterns,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(uuid.NewString(), claims.Identity())
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	h.log.Info().Str("client_id", client.ID).Str("user_id", client.User.ID).Str("role", string(client.User.Role)).Msg("ws connected")

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		return h.readLoop(ctx, conn, client)
	})
	g.Go(func() error {
		return h.writeLoop(ctx, conn, client)
	})
	err = g.Wait()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errReleased) {
		status = websocket.StatusGoingAway
		reason = "server shutting down"
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("client_id", client.ID).Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.rateLimit, rateWindow, h.clock)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			metrics.RateLimitHits.Inc()
			if err := writeError(ctx, conn, &proto.Error{Code: proto.CodeRateLimited, Msg: "too many commands"}); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.log.Debug().Str("client_id", client.ID).Str("type", inbound.Type).Str("code", protoErr.Code).Msg("rejected inbound")
			if err := writeError(ctx, conn, protoErr); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return errReleased
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, protoErr *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr})
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return errReleased
			}
			outbound, err := outboundFromEvent(event)
			if err != nil {
				h.log.Warn().Err(err).Str("client_id", client.ID).Msg("skip unmappable event")
				continue
			}
			if err := wsjson.Write(ctx, conn, outbound); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
