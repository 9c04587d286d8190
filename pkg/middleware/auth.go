package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"homefeed/internal/constants"
	"homefeed/pkg/errors"
)

// VerifyWebhookSignature checks the HMAC-SHA256 signature carried on
// webhook deliveries against the raw request body. Verification happens
// before any parsing; an invalid signature aborts the request with 401 and
// no store mutation. The body is restored for downstream handlers.
func VerifyWebhookSignature(appSecret string, logger interface {
	Warnw(msg string, keysAndValues ...interface{})
}) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		header := c.GetHeader(constants.WebhookSignatureHeader)
		if !validSignature(appSecret, body, header) {
			logger.Warnw("Webhook signature verification failed",
				"path", c.Request.URL.Path,
				"remote_addr", c.ClientIP(),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(errors.ErrUnauthorized))
			return
		}

		c.Next()
	}
}

func validSignature(appSecret string, body []byte, header string) bool {
	if header == "" || !strings.HasPrefix(header, constants.WebhookSignaturePrefix) {
		return false
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(header, constants.WebhookSignaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// SharedSecretAuth guards internal endpoints with a bearer token compared
// in constant time.
func SharedSecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header ||
			subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(errors.ErrUnauthorized))
			return
		}
		c.Next()
	}
}
