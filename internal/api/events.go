package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/app"
	"github.com/ripple-rt/ripple-server/internal/gateway"
	"github.com/ripple-rt/ripple-server/internal/httputil"
)

// maxPublishChannels bounds the channel fan-out of a single publish request.
const maxPublishChannels = 100

// EventHandler serves the publish endpoint.
type EventHandler struct {
	apps app.Repository
	hub  *gateway.Hub
	log  zerolog.Logger
}

// NewEventHandler creates a new publish handler.
func NewEventHandler(apps app.Repository, hub *gateway.Hub, logger zerolog.Logger) *EventHandler {
	return &EventHandler{apps: apps, hub: hub, log: logger}
}

// publishRequest is the body of POST /apps/:id/events. Either channel or channels names the targets; socket_id
// optionally excludes one connection, and arrives as a dotted string or a raw integer depending on the client.
type publishRequest struct {
	Name     string             `json:"name"`
	Data     json.RawMessage    `json:"data"`
	Channel  string             `json:"channel"`
	Channels []string           `json:"channels"`
	SocketID gateway.FlexibleID `json:"socket_id"`
}

func (r *publishRequest) targets() []string {
	if len(r.Channels) > 0 {
		return r.Channels
	}
	if r.Channel != "" {
		return []string{r.Channel}
	}
	return nil
}

// Publish handles POST /apps/:id/events. The broadcast is enqueued; delivery to slow consumers is best-effort.
func (h *EventHandler) Publish(c fiber.Ctx) error {
	a, errResp := appByParam(c, h.apps, h.log)
	if a == nil {
		return errResp
	}

	var req publishRequest
	if err := c.Bind().JSON(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid JSON body")
	}

	if req.Name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "event name is required")
	}
	channels := req.targets()
	if len(channels) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "channel or channels is required")
	}
	if len(channels) > maxPublishChannels {
		return httputil.Fail(c, fiber.StatusBadRequest, "too many channels")
	}
	if len(req.Data) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "event data is required")
	}

	var except gateway.SocketID
	if req.SocketID != "" {
		sid, err := gateway.ParseSocketID(string(req.SocketID))
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid socket_id")
		}
		except = sid
	}

	h.hub.Publish(a.ID, channels, req.Name, req.Data, except)

	h.log.Debug().
		Int64("app_id", a.ID).
		Str("event", req.Name).
		Strs("channels", channels).
		Msg("Event published")
	return c.JSON(fiber.Map{})
}
