// Package httputil holds shared HTTP plumbing: the JSON error envelope and the zerolog request logger.
package httputil

import "github.com/gofiber/fiber/v3"

// ErrorBody holds structured error details.
type ErrorBody struct {
	Message string `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Fail sends a JSON error response with the given status and message.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: ErrorBody{Message: message}})
}
