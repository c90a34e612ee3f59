// Package api holds the HTTP handlers: the WebSocket upgrade endpoint, the publish and channel introspection API,
// and the app admin API.
package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/app"
	"github.com/ripple-rt/ripple-server/internal/httputil"
)

// AppHandler serves the app admin endpoints.
type AppHandler struct {
	apps app.Repository
	log  zerolog.Logger
}

// NewAppHandler creates a new app admin handler.
func NewAppHandler(apps app.Repository, logger zerolog.Logger) *AppHandler {
	return &AppHandler{apps: apps, log: logger}
}

// List handles GET /apps.
func (h *AppHandler) List(c fiber.Ctx) error {
	apps, err := h.apps.List(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list apps")
		return fiber.ErrInternalServerError
	}
	if apps == nil {
		apps = []app.App{}
	}
	return c.JSON(fiber.Map{"apps": apps})
}

// Create handles POST /apps. The key and secret are generated server-side; the request carries only the name.
func (h *AppHandler) Create(c fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid JSON body")
	}

	name, err := app.ValidateName(req.Name)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	created, err := h.apps.Insert(c.Context(), name)
	if err != nil {
		h.log.Error().Err(err).Str("name", name).Msg("Failed to create app")
		return fiber.ErrInternalServerError
	}

	h.log.Info().Int64("app_id", created.ID).Str("name", created.Name).Msg("App created")
	return c.Status(fiber.StatusCreated).JSON(created)
}

// Delete handles DELETE /apps/:id.
func (h *AppHandler) Delete(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid app id")
	}

	if err := h.apps.Delete(c.Context(), id); err != nil {
		if errors.Is(err, app.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "app not found")
		}
		h.log.Error().Err(err).Int64("app_id", id).Msg("Failed to delete app")
		return fiber.ErrInternalServerError
	}

	h.log.Info().Int64("app_id", id).Msg("App deleted")
	return c.SendStatus(fiber.StatusNoContent)
}
