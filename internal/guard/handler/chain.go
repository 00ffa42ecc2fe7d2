package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChainHandler exposes read-only HTTP endpoints for the causal event log.
type ChainHandler struct {
	store  eventlog.Store
	logger *zap.Logger
}

// NewChainHandler creates a new ChainHandler.
func NewChainHandler(store eventlog.Store, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{store: store, logger: logger}
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	chain := rg.Group("/chain")
	{
		chain.GET("", h.ListScopes)
		chain.GET("/:scope", h.Overview)
		chain.GET("/:scope/verify", h.Verify)
		chain.GET("/:scope/events", h.TailEvents)
		chain.GET("/:scope/events/:idx", h.GetEvent)
	}
}

// ListScopes handles GET /chain — lists every scope with at least one event.
func (h *ChainHandler) ListScopes(c *gin.Context) {
	scopes, err := h.store.Scopes(c.Request.Context())
	if err != nil {
		h.logger.Error("list scopes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scopes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scopes": scopes})
}

// Overview handles GET /chain/:scope — returns the chain length and root hash.
func (h *ChainHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	scope := c.Param("scope")

	count, err := h.store.Len(ctx, scope)
	if err != nil {
		h.logger.Error("chain Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query chain"})
		return
	}

	root, err := h.store.Root(ctx, scope)
	if err != nil {
		h.logger.Error("chain Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query chain root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scope":  scope,
		"events": count,
		"root":   root,
	})
}

// Verify handles GET /chain/:scope/verify — re-derives every hash in the
// scope's chain and reports integrity.
func (h *ChainHandler) Verify(c *gin.Context) {
	scope := c.Param("scope")

	if err := h.store.Verify(c.Request.Context(), scope); err != nil {
		h.logger.Warn("chain integrity check failed",
			zap.String("scope", scope), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"scope": scope,
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"scope": scope, "valid": true})
}

// TailEvents handles GET /chain/:scope/events — returns the most recent
// events in append order. ?limit= caps the count (default 20, max 100).
func (h *ChainHandler) TailEvents(c *gin.Context) {
	scope := c.Param("scope")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	events, err := h.store.Snapshot(c.Request.Context(), scope)
	if err != nil {
		h.logger.Error("chain snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{"scope": scope, "events": events})
}

// GetEvent handles GET /chain/:scope/events/:idx — returns a single event.
func (h *ChainHandler) GetEvent(c *gin.Context) {
	scope := c.Param("scope")

	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	ev, err := h.store.Get(c.Request.Context(), scope, idx)
	if err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("chain Get", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}

	c.JSON(http.StatusOK, ev)
}
