package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/paygate/internal/logging"
	"github.com/congo-pay/paygate/internal/notification"
	"github.com/congo-pay/paygate/internal/payments"
)

const (
	maxInboundFrame = 4 << 10
	commandTimeout  = 10 * time.Second
)

// TokenVerifier resolves a realtime token to a user id.
type TokenVerifier interface {
	VerifyRealtime(token string) (string, error)
}

// CommandHandler runs payment commands.
type CommandHandler interface {
	Handle(ctx context.Context, cmd payments.Command) (any, error)
}

// Handler serves the realtime WebSocket endpoint.
type Handler struct {
	hub      *Hub
	tokens   TokenVerifier
	commands CommandHandler
	logger   *slog.Logger
}

// NewHandler constructs a realtime handler.
func NewHandler(hub *Hub, tokens TokenVerifier, commands CommandHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{hub: hub, tokens: tokens, commands: commands, logger: logger}
}

// Upgrade admits WebSocket upgrades carrying a valid ?token.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	uid, err := h.tokens.VerifyRealtime(c.Query("token"))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid realtime token")
	}
	c.Locals("user_id", uid)
	return c.Next()
}

// Serve returns the WebSocket handler. It must be mounted after Upgrade.
func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Handler) serve(conn *websocket.Conn) {
	uid, _ := conn.Locals("user_id").(string)
	if uid == "" {
		_ = conn.Close()
		return
	}
	client := h.hub.Register(uid, conn)
	defer h.hub.Unregister(client)

	log := h.logger.With(slog.String("uid", uid))
	log.Debug("realtime client connected")
	client.Send(Frame{Event: notification.EventConnected, Data: map[string]any{"uid": uid}})

	conn.SetReadLimit(maxInboundFrame)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug("realtime client disconnected", slog.Any("error", err))
			return
		}
		client.Send(h.dispatch(uid, raw))
	}
}

type inbound struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
}

// Frame names only sent in reply to client messages.
const (
	FramePong              = "pong"
	FrameReady             = "ready"
	FrameTransactionStatus = "transaction_status"
	FrameError             = "error"
)

func (h *Handler) dispatch(uid string, raw []byte) Frame {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorFrame("malformed message")
	}

	switch msg.Type {
	case "ping":
		return Frame{Event: FramePong}
	case "ready":
		return Frame{Event: FrameReady}
	case payments.CommandTransactionStatus:
		if msg.TransactionID == "" {
			return errorFrame("transaction_id is required")
		}
		ctx, cancel := context.WithTimeout(logging.WithCorrelationID(context.Background(), uuid.NewString()), commandTimeout)
		defer cancel()
		res, err := h.commands.Handle(ctx, payments.Command{
			Name:          payments.CommandTransactionStatus,
			UID:           uid,
			TransactionID: msg.TransactionID,
		})
		if err != nil {
			if errors.Is(err, payments.ErrNotFound) {
				return errorFrame("transaction not found")
			}
			_, text := payments.StatusFor(err)
			return errorFrame(text)
		}
		return Frame{Event: FrameTransactionStatus, Data: res}
	default:
		return errorFrame("unsupported message type")
	}
}

func errorFrame(message string) Frame {
	return Frame{Event: FrameError, Data: map[string]any{"message": message}}
}
