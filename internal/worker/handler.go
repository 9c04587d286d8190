package worker

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"homefeed/internal/constants"
	"homefeed/internal/logger"
	"homefeed/pkg/errors"
)

type Handler struct {
	service *Service
	audit   AuditRepository
	logger  logger.Logger
}

func NewHandler(service *Service, audit AuditRepository, log logger.Logger) *Handler {
	return &Handler{service: service, audit: audit, logger: log}
}

// ProcessPending runs one batch on behalf of the trigger (or an operator).
// Caller-supplied sizes are clamped, never trusted.
func (h *Handler) ProcessPending(c *gin.Context) {
	var opts BatchOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
	}
	opts.BatchSize = clamp(opts.BatchSize, constants.DefaultBatchSize, constants.MaxBatchSize)
	opts.MaxAttempts = clamp(opts.MaxAttempts, constants.DefaultMaxAttempts, constants.MaxMaxAttempts)

	result, err := h.service.ProcessPendingBatch(c.Request.Context(), opts)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Batch processing failed", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecentBatches exposes the audit trail for operators.
func (h *Handler) RecentBatches(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	batches, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to list batches", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(errors.ErrStore.WithCause(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// clamp maps zero to the default and caps at max; 1 is always the floor.
func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
