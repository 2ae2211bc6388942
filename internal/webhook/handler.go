package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	SecretHeader = "X-Vapi-Secret"
	maxBodyBytes = 2 << 20
)

// Handler is the provider webhook endpoint. Apart from a bad shared secret
// it always answers 200.
type Handler struct {
	Router *Router
	// Secret, when set, must match the X-Vapi-Secret header.
	Secret string
}

func (h Handler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(SecretHeader)), []byte(h.Secret)) != 1 {
		log.Warn("webhook secret mismatch")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Warn("webhook body read failed", "error", err)
		h.Router.RecordMalformed()
		c.JSON(http.StatusOK, Ack{Received: true})
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn("webhook body is not valid JSON", "error", err, "bytes", len(body))
		h.Router.RecordMalformed()
		c.JSON(http.StatusOK, Ack{Received: true})
		return
	}

	resp := h.Router.Dispatch(logger.With(c.Request.Context(), log), env.Message)
	c.JSON(http.StatusOK, resp)
}
