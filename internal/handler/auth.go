package handler

import (
	"net/http"

	"github.com/agrisentinel/lotchain/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler exchanges directory credentials for session tokens.
type AuthHandler struct {
	dir    *session.Directory
	tokens *session.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(dir *session.Directory, tokens *session.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{dir: dir, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.GET("/me", session.RequireActor(h.tokens), h.Me)
	}
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login: authenticates with email/password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, err := h.dir.Authenticate(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.tokens.Issue(actor)
	if err != nil {
		h.logger.Error("issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      tok,
		"expires_in": int(h.tokens.TTL().Seconds()),
		"actor":      actor,
	})
}

// Me handles GET /auth/me: returns the authenticated actor.
func (h *AuthHandler) Me(c *gin.Context) {
	actor, ok := session.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor": actor})
}
