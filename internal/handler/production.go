package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/topicreel/api/internal/model"
	"github.com/topicreel/api/internal/registry"
	"github.com/topicreel/api/internal/service"
	"github.com/topicreel/api/pkg/response"
)

type ProductionHandler struct {
	service   *service.ProductionService
	validator *validator.Validate
}

func NewProductionHandler(svc *service.ProductionService, v *validator.Validate) *ProductionHandler {
	return &ProductionHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/tasks
// @Summary      Submit production task
// @Description  Submit a topic for asynchronous short-form video production
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        request body model.SubmitRequest true "Production request"
// @Success      202 {object} model.SubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks [post]
func (h *ProductionHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/tasks/:taskId
// @Summary      Get task status
// @Description  Get the current state, progress and attempt of a production task
// @Tags         Tasks
// @Produce      json
// @Param        taskId path string true "Task ID"
// @Success      200 {object} model.StatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/{taskId} [get]
func (h *ProductionHandler) Status(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/tasks/:taskId/result
// @Summary      Get task result
// @Description  Get the artifacts of a completed production task
// @Tags         Tasks
// @Produce      json
// @Param        taskId path string true "Task ID"
// @Success      200 {object} model.ResultResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/{taskId}/result [get]
func (h *ProductionHandler) Result(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Task not found")
		}
		if errors.Is(err, registry.ErrConflict) {
			return response.Conflict(c, "Task not completed yet")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/tasks/:taskId/cancel
// @Summary      Cancel task
// @Description  Cancel a pending or running production task
// @Tags         Tasks
// @Produce      json
// @Param        taskId path string true "Task ID"
// @Success      200 {object} model.CancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/{taskId}/cancel [post]
func (h *ProductionHandler) Cancel(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Task not found")
		}
		if errors.Is(err, registry.ErrConflict) {
			return response.Conflict(c, "Task already finished")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Retry handles POST /api/tasks/:taskId/retry
// @Summary      Retry failed task
// @Description  Re-enter a failed task into the pipeline from the start
// @Tags         Tasks
// @Produce      json
// @Param        taskId path string true "Task ID"
// @Success      202 {object} model.RetryResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/{taskId}/retry [post]
func (h *ProductionHandler) Retry(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	result, err := h.service.Retry(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Task not found")
		}
		if errors.Is(err, registry.ErrConflict) {
			return response.Conflict(c, "Only failed tasks can be retried")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// List handles GET /api/tasks
// @Summary      List tasks
// @Description  List tasks, optionally filtered by state, oldest first
// @Tags         Tasks
// @Produce      json
// @Param        state query string false "Comma-separated states to include"
// @Param        limit query int false "Maximum number of tasks"
// @Success      200 {array} model.StatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks [get]
func (h *ProductionHandler) List(c *fiber.Ctx) error {
	var states []model.TaskState
	if raw := c.Query("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			states = append(states, model.TaskState(strings.TrimSpace(s)))
		}
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return response.ValidationError(c, "Invalid limit", nil)
		}
		limit = n
	}

	result, err := h.service.List(c.Context(), states, limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Stats handles GET /api/tasks/stats
// @Summary      Get task stats
// @Description  Get aggregate task counts by state
// @Tags         Tasks
// @Produce      json
// @Success      200 {object} model.StatsResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/stats [get]
func (h *ProductionHandler) Stats(c *fiber.Ctx) error {
	result, err := h.service.GetStats(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
