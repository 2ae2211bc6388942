// Package httpapi is the tenant-scoped admin API.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/bookings"
	"voicedesk/internal/calls"
	"voicedesk/internal/rbac"
	"voicedesk/internal/transcripts"

	"github.com/gin-gonic/gin"
)

type BookingService interface {
	CheckAvailability(ctx context.Context, tenantID, date string, pref bookings.TimePreference) ([]time.Time, error)
	CreateBooking(ctx context.Context, req bookings.CreateRequest) (bookings.Booking, error)
	GetBooking(ctx context.Context, tenantID, bookingID string) (bookings.Booking, error)
	CancelBooking(ctx context.Context, tenantID, bookingID, reason string) (bookings.Booking, error)
}

type CallReader interface {
	Get(ctx context.Context, tenantID, callID string) (calls.Call, error)
}

type TurnReader interface {
	List(ctx context.Context, callID string) ([]transcripts.Turn, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Bookings    BookingService
	Calls       CallReader
	Transcripts TurnReader
}

// Register mounts the admin routes on g. The group must already carry
// token verification.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.Use(rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin))

	b := g.Group("/bookings")
	b.POST("/availability", h.CheckAvailability)
	b.POST("", h.CreateBooking)
	b.GET("/:id", h.GetBooking)
	b.POST("/:id/cancel", h.CancelBooking)

	cl := g.Group("/calls")
	cl.GET("/:id", h.GetCall)
	cl.GET("/:id/transcript", h.GetTranscript)
}

func tenantOf(c *gin.Context) (string, bool) {
	tid, err := auth.TenantID(c.Request.Context())
	if err != nil {
		abort(c, http.StatusForbidden, CodeForbidden, "tenant_id required")
		return "", false
	}
	return tid, true
}

// --- Bookings ---

type availabilityRequest struct {
	Date       string `json:"date"`
	Preference string `json:"preference"`
}

type availabilityResponse struct {
	Date  string      `json:"date,omitempty"`
	Slots []time.Time `json:"slots"`
}

func (h Handlers) CheckAvailability(c *gin.Context) {
	tid, ok := tenantOf(c)
	if !ok {
		return
	}
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, "invalid json")
		return
	}
	pref, ok := bookings.ParseTimePreference(req.Preference)
	if !ok {
		abort(c, http.StatusBadRequest, CodeValidation, "preference must be morning, afternoon or evening")
		return
	}

	slots, err := h.Bookings.CheckAvailability(c.Request.Context(), tid, req.Date, pref)
	if err != nil {
		fail(c, err)
		return
	}
	if slots == nil {
		slots = []time.Time{}
	}
	c.JSON(http.StatusOK, availabilityResponse{Date: req.Date, Slots: slots})
}

type createBookingRequest struct {
	CallID        string `json:"call_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	StartTime     string `json:"start_time"`
	Notes         string `json:"notes"`
}

func (h Handlers) CreateBooking(c *gin.Context) {
	tid, ok := tenantOf(c)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeValidation, "invalid json")
		return
	}
	actor, _ := auth.UserID(c.Request.Context())

	bk, err := h.Bookings.CreateBooking(c.Request.Context(), bookings.CreateRequest{
		TenantID:      tid,
		CallID:        strings.TrimSpace(req.CallID),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		StartTime:     req.StartTime,
		Notes:         req.Notes,
		ActorUserID:   actor,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, bk)
}

func (h Handlers) GetBooking(c *gin.Context) {
	tid, ok := tenantOf(c)
	if !ok {
		return
	}
	bk, err := h.Bookings.GetBooking(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bk)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelBooking accepts an empty body.
func (h Handlers) CancelBooking(c *gin.Context) {
	tid, ok := tenantOf(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, CodeValidation, "invalid json")
			return
		}
	}
	bk, err := h.Bookings.CancelBooking(c.Request.Context(), tid, c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bk)
}

// --- Calls ---

func (h Handlers) GetCall(c *gin.Context) {
	tid, ok := tenantOf(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type transcriptResponse struct {
	CallID string             `json:"call_id"`
	Turns  []transcripts.Turn `json:"turns"`
}

// GetTranscript checks the call belongs to the caller's tenant before
// listing its turns.
func (h Handlers) GetTranscript(c *gin.Context) {
	tid, ok := tenantOf(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	turns, err := h.Transcripts.List(c.Request.Context(), call.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if turns == nil {
		turns = []transcripts.Turn{}
	}
	c.JSON(http.StatusOK, transcriptResponse{CallID: call.ID, Turns: turns})
}
