package httpapi

import (
	"errors"
	"net/http"

	"voicedesk/internal/bookings"
	"voicedesk/internal/calls"
	"voicedesk/internal/tenants"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "code" field.
const (
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeNotConfigured   = "not_configured"
	CodeSlotUnavailable = "slot_unavailable"
	CodeUpstream        = "upstream_error"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
)

type errorBody struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{
		RequestID: logger.RequestID(c),
		Code:      code,
		Message:   message,
	})
}

// fail maps a domain error onto a status and code. Internal errors are
// logged and never echoed to the caller.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bookings.ErrValidation), errors.Is(err, calls.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, bookings.ErrNotFound), errors.Is(err, calls.ErrNotFound), errors.Is(err, tenants.ErrNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, bookings.ErrNotConfigured):
		abort(c, http.StatusConflict, CodeNotConfigured, "scheduling is not configured for this tenant")
	case errors.Is(err, bookings.ErrSlotUnavailable):
		abort(c, http.StatusConflict, CodeSlotUnavailable, "that time is no longer available")
	case errors.Is(err, bookings.ErrUpstream):
		logger.FromGin(c).Warn("scheduling provider error", "error", err)
		abort(c, http.StatusBadGateway, CodeUpstream, "scheduling provider unavailable")
	default:
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
