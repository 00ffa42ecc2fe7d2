package handler

import (
	"net/http"
	"strings"

	"github.com/causalguard-labs/causalguard/internal/guard/service"
	"github.com/causalguard-labs/causalguard/internal/identity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GovernanceHandler handles authenticated governance operations. A nil token
// issuer disables the routes entirely rather than leaving them open.
type GovernanceHandler struct {
	svc    *service.Service
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewGovernanceHandler creates a new GovernanceHandler.
func NewGovernanceHandler(svc *service.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *GovernanceHandler {
	return &GovernanceHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the governance routes on the given router group.
func (h *GovernanceHandler) Register(rg *gin.RouterGroup) {
	if h.tokens == nil {
		return
	}
	g := rg.Group("/governance", h.requireGovernance())
	{
		g.POST("/root", h.UpdateProofRoot)
		g.GET("/root", h.GetProofRoot)
	}
}

// requireGovernance verifies the Bearer token carries the governance scope
// and stashes the claims on the request context.
func (h *GovernanceHandler) requireGovernance() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "governance token required"})
			return
		}
		claims, err := h.tokens.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid governance token"})
			return
		}
		c.Set("governance_claims", claims)
		c.Next()
	}
}

type updateRootRequest struct {
	ProofRoot string `json:"proof_root" binding:"required"`
}

// UpdateProofRoot handles POST /governance/root — replaces the aggregate-key
// root. The update is itself appended to the governance chain for audit.
func (h *GovernanceHandler) UpdateProofRoot(c *gin.Context) {
	var req updateRootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := c.MustGet("governance_claims").(*identity.GovernanceClaims)
	ev, err := h.svc.UpdateProofRoot(c.Request.Context(), claims.Subject, req.ProofRoot)
	if err != nil {
		h.logger.Error("proof root update", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "proof root update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"proof_root": req.ProofRoot,
		"event":      ev,
	})
}

// GetProofRoot handles GET /governance/root — returns the active root.
func (h *GovernanceHandler) GetProofRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"proof_root": h.svc.Orchestrator().ProofRoot()})
}
