package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"virtualcare-platform/internal/auth"
	"virtualcare-platform/internal/calls"
	"virtualcare-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const webhookSecretHeader = "X-Webhook-Secret"

// CallService is the orchestrator surface used by the HTTP layer.
type CallService interface {
	Initiate(ctx context.Context, req calls.InitiateRequest) (calls.InitiateResult, error)
	Get(ctx context.Context, sessionID string) (calls.Session, error)
	EndCall(ctx context.Context, sessionID string) error
	HandleTargetAction(ctx context.Context, action calls.TargetAction, meetingID, locationID string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls CallService

	// WebhookSecret, when set, must be presented in X-Webhook-Secret by the TV system.
	WebhookSecret string
}

// --- Calls ---

type startCallRequest struct {
	LocationID  string `json:"location_id"`
	CallerName  string `json:"caller_name,omitempty"`
	CallType    string `json:"call_type,omitempty"`
	MediaRegion string `json:"media_region,omitempty"`
}

// StartCall initiates a call from the authenticated console user to a location.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.LocationID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "location_id required"})
		return
	}
	callType, err := calls.ParseCallType(req.CallType)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_type must be regular or override"})
		return
	}
	callerName := strings.TrimSpace(req.CallerName)
	if callerName == "" {
		callerName = auth.DisplayName(c.Request.Context())
	}

	res, err := h.Calls.Initiate(c.Request.Context(), calls.InitiateRequest{
		LocationID:  req.LocationID,
		CallerID:    callerID,
		CallerName:  callerName,
		CallType:    callType,
		MediaRegion: req.MediaRegion,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetCall returns the session without join tokens.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	cs, err := h.Calls.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs.Public())
}

func (h Handlers) EndCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	if err := h.Calls.EndCall(c.Request.Context(), c.Param("session_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}

// --- Webhooks ---

type targetActionRequest struct {
	Action     string `json:"action"`
	MeetingID  string `json:"meetingId"`
	LocationID string `json:"locationId"`
}

// TargetAction receives the target's answer from the TV system.
// The response never says whether the meeting was known.
func (h Handlers) TargetAction(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	if h.WebhookSecret != "" {
		got := c.GetHeader(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}

	var req targetActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	action, err := calls.ParseTargetAction(req.Action)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "action must be ACCEPTED, DECLINED or IGNORED"})
		return
	}
	if strings.TrimSpace(req.MeetingID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "meetingId required"})
		return
	}

	if err := h.Calls.HandleTargetAction(c.Request.Context(), action, req.MeetingID, strings.TrimSpace(req.LocationID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps orchestrator errors to HTTP responses. Provider and storage
// details stay in the log.
func writeError(c *gin.Context, err error) {
	if reason, ok := calls.ReasonOf(err); ok {
		status := http.StatusBadRequest
		switch reason {
		case calls.ReasonDeviceOffline:
			status = http.StatusServiceUnavailable
		case calls.ReasonActiveCallExists:
			status = http.StatusConflict
		case calls.ReasonNotFound:
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": strings.ToLower(string(reason)), "reason": string(reason)})
		return
	}

	var perr *calls.ProviderError
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &perr):
		logger.FromGin(c).Error("provider failure", "op", perr.Op, "err", perr.Err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream provider failure"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
