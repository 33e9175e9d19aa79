package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voicegate/internal/auth"
	"voicegate/internal/calls"
	"voicegate/internal/lifecycle"
	"voicegate/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Lifecycle *lifecycle.Manager
	Reports   *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AccountID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, account_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Lifecycle.InitiateCall(c.Request.Context(), lifecycle.InitiateCallRequest{
		To:      req.To,
		From:    req.From,
		Mode:    calls.CallMode(req.Mode),
		Message: req.Message,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, res)
	case errors.Is(err, lifecycle.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrCallLimitReached):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "active call limit reached"})
	case errors.Is(err, lifecycle.ErrNotInitialized):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "telephony not configured"})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call placement failed"})
	}
}

type hangupRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HangupCall accepts either an internal call id or a provider call id.
func (h Handlers) HangupCall(c *gin.Context) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}
	callRef := c.Param("call_id")
	var req hangupRequest
	_ = c.ShouldBindJSON(&req) // body is optional
	if req.Reason == "" {
		req.Reason = "api-request"
	}

	err := h.Lifecycle.HangupCall(c.Request.Context(), callRef, req.Reason)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "completed"})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, lifecycle.ErrNotInitialized):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "telephony not configured"})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "hangup failed"})
	}
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}
	rec, err := h.Lifecycle.GetCall(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) GetCallByProviderID(c *gin.Context) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}
	rec, err := h.Lifecycle.GetCallByProviderCallID(c.Request.Context(), c.Param("provider_call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// --- Reporting ---

// CallsSummary aggregates call metrics for ?from=...&to=... (RFC 3339).
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	from, errFrom := time.Parse(time.RFC3339, c.Query("from"))
	to, errTo := time.Parse(time.RFC3339, c.Query("to"))
	if errFrom != nil || errTo != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
