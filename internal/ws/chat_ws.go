package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"support-chat/internal/middleware"
	"support-chat/internal/observability"
)

// ChatWebSocketHandler serves the per-user invalidation stream.
type ChatWebSocketHandler struct {
	hub       *Hub
	validator middleware.TokenValidator
	deps      SessionDeps
	log       *zap.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, validator middleware.TokenValidator, deps SessionDeps) *ChatWebSocketHandler {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatWebSocketHandler{hub: hub, validator: validator, deps: deps, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades the connection and runs a session until
// the client goes away.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("support-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.validator.UserID(tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		Client:      observability.ClientFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	headers := observability.BuildHeaders(info.Client.RequestID, traceID)

	client := newClient(conn, info, h.log)
	h.hub.AddClient(client)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, observability.RoutingWSEvents, observability.NewWSEvent("ws_connect", info.eventFields("")), headers)

	// the session outlives the upgrade request; keep only its trace parent
	sessionCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	session := NewSession(userID, h.deps, client.Send)
	go client.writePump()

	go func() {
		var closeReason string
		defer func() {
			session.Close()
			client.Close()
			h.hub.RemoveClient(client)
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			_ = observability.PublishEvent(context.Background(), observability.RoutingWSEvents,
				observability.NewWSEvent("ws_disconnect", info.eventFields(closeReason)), headers)
		}()

		if err := session.Start(sessionCtx); err != nil {
			closeReason = err.Error()
			h.log.Error("ws session start failed", zap.String("user_id", userID), zap.Error(err))
			h.hub.publishWSError(client, err)
			return
		}

		err := client.readPump(session.Handle)
		closeReason = err.Error()
		if client.Overflowed() {
			closeReason = "send buffer overflow"
			h.hub.publishWSError(client, errSendOverflow)
			return
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			h.hub.publishWSError(client, err)
		}
	}()
}
