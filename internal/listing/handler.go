package listing

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"homefeed/internal/logger"
	"homefeed/pkg/errors"
	"homefeed/pkg/metrics"
)

type Handler struct {
	repo   Repository
	logger logger.Logger
}

func NewHandler(repo Repository, log logger.Logger) *Handler {
	return &Handler{repo: repo, logger: log}
}

// Search serves the listings read surface consumed by the search layer.
func (h *Handler) Search(c *gin.Context) {
	filter := SearchFilter{
		Query:    c.Query("q"),
		City:     c.Query("city"),
		State:    c.Query("state"),
		Category: c.Query("category"),
		Status:   c.Query("status"),
	}
	if v := c.Query("min_confidence"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("reason", "min_confidence must be a number")))
			return
		}
		filter.MinConfidence = parsed
	}
	filter.Limit = intQuery(c, "limit")
	filter.Offset = intQuery(c, "offset")

	result, err := h.repo.Search(c.Request.Context(), filter)
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		h.logger.ErrorwCtx(c.Request.Context(), "Listing search failed", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(errors.ErrStore.WithCause(err)))
		return
	}

	metrics.SearchQueriesTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, result)
}

// GetByID returns a single listing, 404 when unknown.
func (h *Handler) GetByID(c *gin.Context) {
	rec, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Listing lookup failed", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(errors.ErrStore.WithCause(err)))
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, errors.ToErrorResponse(errors.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func intQuery(c *gin.Context, name string) int {
	v := c.Query(name)
	if v == "" {
		return 0
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return parsed
}
