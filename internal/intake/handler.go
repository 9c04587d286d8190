package intake

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"homefeed/internal/logger"
	"homefeed/pkg/errors"
)

type Handler struct {
	normalizer *Normalizer
	logger     logger.Logger
}

func NewHandler(normalizer *Normalizer, log logger.Logger) *Handler {
	return &Handler{normalizer: normalizer, logger: log}
}

// HandleWebhook accepts a provider webhook delivery. The signature has
// already been verified by middleware; the response acks quickly so the
// provider does not re-deliver on processing latency.
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	summary, err := h.normalizer.Ingest(c.Request.Context(), body)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Webhook ingestion failed", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, summary)
}
