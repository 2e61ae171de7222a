// Package response defines the JSON envelope shared by all HTTP handlers.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// ErrorDetail carries the machine-readable error code and human message.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse is the envelope for all error replies.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// OK sends a 200 with the given payload.
func OK(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(data)
}

// Accepted sends a 202 with the given payload.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

// ValidationError sends a 400 with optional per-field details.
func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: ErrorDetail{Code: "VALIDATION_ERROR", Message: message, Details: details},
	})
}

// Unauthorized sends a 401.
func Unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error: ErrorDetail{Code: "UNAUTHORIZED", Message: message},
	})
}

// NotFound sends a 404.
func NotFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error: ErrorDetail{Code: "NOT_FOUND", Message: message},
	})
}

// Conflict sends a 409.
func Conflict(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
		Error: ErrorDetail{Code: "CONFLICT", Message: message},
	})
}

// RateLimited sends a 429.
func RateLimited(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
		Error: ErrorDetail{Code: "RATE_LIMITED", Message: "Too many requests"},
	})
}

// ServiceError sends a 500.
func ServiceError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: ErrorDetail{Code: "SERVICE_ERROR", Message: message},
	})
}
