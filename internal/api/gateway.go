package api

import (
	"strconv"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/ripple-rt/ripple-server/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the realtime gateway.
type GatewayHandler struct {
	hub *gateway.Hub
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /app/:id. It upgrades the HTTP connection to a WebSocket and hands it to the Hub. An
// unparseable id is treated like an unknown app: the upgrade succeeds and the session is closed with the protocol
// error frame, which is what Pusher client libraries expect.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	appID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		appID = 0
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, appID)
	})(c)
}
