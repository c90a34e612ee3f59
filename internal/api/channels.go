package api

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/app"
	"github.com/ripple-rt/ripple-server/internal/gateway"
	"github.com/ripple-rt/ripple-server/internal/httputil"
)

// ChannelHandler serves the channel introspection endpoints.
type ChannelHandler struct {
	apps app.Repository
	hub  *gateway.Hub
	log  zerolog.Logger
}

// NewChannelHandler creates a new channel introspection handler.
func NewChannelHandler(apps app.Repository, hub *gateway.Hub, logger zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{apps: apps, hub: hub, log: logger}
}

// appByParam resolves the :id path parameter to an app. When it returns a nil app, the response has already been
// written and the accompanying error is the handler's return value.
func appByParam(c fiber.Ctx, apps app.Repository, log zerolog.Logger) (*app.App, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, httputil.Fail(c, fiber.StatusBadRequest, "invalid app id")
	}

	a, err := apps.FindByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			return nil, httputil.Fail(c, fiber.StatusNotFound, "app not found")
		}
		log.Error().Err(err).Int64("app_id", id).Msg("Failed to resolve app")
		return nil, fiber.ErrInternalServerError
	}
	return a, nil
}

// distinctUsers counts unique user ids in a presence roster; the same user on several connections counts once.
func distinctUsers(members map[gateway.SocketID]*gateway.PresenceRecord) int {
	seen := make(map[string]bool, len(members))
	for _, rec := range members {
		seen[string(rec.UserID)] = true
	}
	return len(seen)
}

// channelInfo is one entry of the channels map. user_count is present only for presence channels when requested via
// the info query parameter.
type channelInfo struct {
	UserCount *int `json:"user_count,omitempty"`
}

// List handles GET /apps/:id/channels. It reports every occupied channel, optionally filtered by name prefix and
// annotated with presence user counts.
func (h *ChannelHandler) List(c fiber.Ctx) error {
	a, errResp := appByParam(c, h.apps, h.log)
	if a == nil {
		return errResp
	}

	prefix := c.Query("filter_by_prefix")
	wantUserCount := false
	for _, attr := range strings.Split(c.Query("info"), ",") {
		if strings.TrimSpace(attr) == "user_count" {
			wantUserCount = true
		}
	}

	ns := h.hub.Namespace(a.ID)
	channels := make(map[string]channelInfo)
	for _, name := range ns.ChannelNames() {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		info := channelInfo{}
		if wantUserCount && gateway.KindOf(name) == gateway.ChannelPresence {
			count := distinctUsers(ns.Members(name))
			info.UserCount = &count
		}
		channels[name] = info
	}

	return c.JSON(fiber.Map{"channels": channels})
}

// Users handles GET /apps/:id/channels/:channel/users. Only presence channels carry a user list.
func (h *ChannelHandler) Users(c fiber.Ctx) error {
	a, errResp := appByParam(c, h.apps, h.log)
	if a == nil {
		return errResp
	}

	channel := c.Params("channel")
	if gateway.KindOf(channel) != gateway.ChannelPresence {
		return httputil.Fail(c, fiber.StatusBadRequest, "users are only available on presence channels")
	}

	type userEntry struct {
		ID string `json:"id"`
	}

	seen := make(map[string]bool)
	users := []userEntry{}
	for _, rec := range h.hub.Namespace(a.ID).Members(channel) {
		id := string(rec.UserID)
		if !seen[id] {
			seen[id] = true
			users = append(users, userEntry{ID: id})
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return c.JSON(fiber.Map{"users": users})
}
