// Package handler exposes the guard's HTTP surface: proposal submission,
// chain inspection, governance, and Prometheus metrics.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/gateway"
	"github.com/causalguard-labs/causalguard/internal/guard/service"
	"github.com/causalguard-labs/causalguard/internal/policy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProposalHandler handles action proposal submission and status lookups.
type ProposalHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewProposalHandler creates a new ProposalHandler.
func NewProposalHandler(svc *service.Service, logger *zap.Logger) *ProposalHandler {
	return &ProposalHandler{svc: svc, logger: logger}
}

// Register mounts the proposal routes on the given router group.
func (h *ProposalHandler) Register(rg *gin.RouterGroup) {
	actions := rg.Group("/actions")
	{
		actions.POST("", h.SubmitAction)
		actions.GET("/:id", h.GetAction)
	}
	rg.GET("/decisions", h.RecentDecisions)
}

// submitRequest is the wire form of a proposal. Payload is base64 per
// encoding/json []byte convention; timestamp_ms is epoch milliseconds and
// defaults to the server clock when omitted.
type submitRequest struct {
	AgentID          string `json:"agent_id" binding:"required"`
	ActionType       string `json:"action_type" binding:"required"`
	Payload          []byte `json:"payload"`
	Value            uint64 `json:"value"`
	Nonce            uint64 `json:"nonce" binding:"required"`
	TimestampMs      int64  `json:"timestamp_ms"`
	Recipient        string `json:"recipient"`
	DestinationChain uint16 `json:"destination_chain"`
}

// SubmitAction handles POST /actions — runs a proposal through the pipeline.
// Compliant proposals answer 201, replays 200, policy rejections 422.
func (h *ProposalHandler) SubmitAction(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	typ := eventlog.EventType(req.ActionType)
	if typ.Code() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action_type " + req.ActionType})
		return
	}

	var ts time.Time
	if req.TimestampMs != 0 {
		ts = time.UnixMilli(req.TimestampMs).UTC()
	}

	res, err := h.svc.Propose(c.Request.Context(), &service.ProposalRequest{
		AgentID:          req.AgentID,
		Type:             typ,
		Payload:          req.Payload,
		Value:            req.Value,
		Nonce:            req.Nonce,
		Timestamp:        ts,
		Recipient:        req.Recipient,
		DestinationChain: req.DestinationChain,
	})
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrRateLimited):
			RecordProposal("rate_limited")
			c.Header("Retry-After", strconv.Itoa(60))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "proposal rate limit exceeded"})
		case errors.Is(err, gateway.ErrPayloadTooLarge):
			RecordProposal("oversize")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.Is(err, eventlog.ErrUnavailable):
			h.logger.Error("event store unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log temporarily unavailable"})
		case errors.Is(err, service.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		default:
			h.logger.Error("proposal failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "proposal failed"})
		}
		return
	}

	switch {
	case res.Duplicate:
		RecordProposal("duplicate")
		c.JSON(http.StatusOK, res)
	case !res.Compliant:
		RecordProposal("rejected")
		RecordViolation(res.Violation.Rule)
		// Condition failures are still logged as events; ordering failures
		// are rejected before append and leave no chain record.
		if res.Violation.Rule != policy.RuleNonceMonotonicity && res.Violation.Rule != policy.RuleTemporalCausality {
			RecordEventAppend()
		}
		c.JSON(http.StatusUnprocessableEntity, res)
	default:
		RecordProposal("accepted")
		RecordEventAppend()
		c.JSON(http.StatusCreated, res)
	}
}

// GetAction handles GET /actions/:id — returns the logged event and its
// current lifecycle status.
func (h *ProposalHandler) GetAction(c *gin.Context) {
	id := c.Param("id")

	ev, err := h.svc.Store().ByActionID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
			return
		}
		h.logger.Error("action lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "action lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event":  ev,
		"status": h.svc.Orchestrator().Status(ev.ActionID),
	})
}

// RecentDecisions handles GET /decisions — returns the latest policy
// verdicts, newest first. ?limit= caps the count (default 50, max 256).
func (h *ProposalHandler) RecentDecisions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 256 {
		limit = 50
	}
	decisions, err := h.svc.Audit().Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("decision audit read", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision audit temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}
