package digest

import (
	"crypto/subtle"
	"net/http"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler is the external scheduler's trigger endpoint:
// GET|POST /internal/digest/run?window=previous_day, authenticated with
// "Authorization: Bearer <CRON_SECRET>".
type Handler struct {
	Scheduler *Scheduler
	Secret    string
	Now       func() time.Time
}

func (h Handler) Run(c *gin.Context) {
	log := logger.FromGin(c)

	tok, ok := auth.BearerToken(c)
	if h.Secret == "" || !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(h.Secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "invalid cron secret"})
		return
	}

	w, err := ParseWindow(c.Query("window"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "validation_error", "message": err.Error()})
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	res, err := h.Scheduler.Run(c.Request.Context(), now(), w)
	if err != nil {
		log.Error("digest run failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "digest run failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}
