package handler

import (
	"errors"
	"net/http"

	"github.com/agrisentinel/lotchain/internal/ledger"
	"github.com/agrisentinel/lotchain/internal/lots"
	"github.com/agrisentinel/lotchain/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LotHandler exposes the custody ledger over HTTP.
type LotHandler struct {
	svc    *lots.Service
	tokens *session.TokenIssuer
	logger *zap.Logger
}

// NewLotHandler creates a LotHandler.
func NewLotHandler(svc *lots.Service, tokens *session.TokenIssuer, logger *zap.Logger) *LotHandler {
	return &LotHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the authenticated lot routes and the public viewer route.
func (h *LotHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/lots", session.RequireActor(h.tokens))
	{
		l.GET("", h.List)
		l.GET("/:lotId", h.Get)
		l.GET("/:lotId/events", h.Events)
		l.GET("/:lotId/verify", h.Verify)
		l.POST("/:lotId/events",
			session.RequireRole(session.RolePlanter, session.RoleCooperative, session.RoleCertifier, session.RoleNGO),
			h.Record,
		)
	}

	rg.GET("/public/lots/:lotId", h.Public)
}

// Record handles POST /lots/:lotId/events: appends a custody action.
func (h *LotHandler) Record(c *gin.Context) {
	var req lots.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.svc.Record(c.Request.Context(), c.Param("lotId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	RecordAppend(string(event.Type))
	c.JSON(http.StatusCreated, event)
}

// List handles GET /lots: returns every lot id.
func (h *LotHandler) List(c *gin.Context) {
	ids, err := h.svc.Lots(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": ids, "count": len(ids)})
}

// Get handles GET /lots/:lotId: the lot view for the calling actor.
func (h *LotHandler) Get(c *gin.Context) {
	v, err := h.svc.Lot(c.Request.Context(), c.Param("lotId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Events handles GET /lots/:lotId/events: the stored chain in append order.
func (h *LotHandler) Events(c *gin.Context) {
	lotID := c.Param("lotId")
	events, err := h.svc.Events(c.Request.Context(), lotID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lotId": lotID, "events": events})
}

// Verify handles GET /lots/:lotId/verify: re-validates the stored chain.
func (h *LotHandler) Verify(c *gin.Context) {
	lotID := c.Param("lotId")
	verdict, err := h.svc.Verify(c.Request.Context(), lotID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !verdict.Valid {
		h.logger.Warn("lot integrity check failed",
			zap.String("lot_id", lotID),
			zap.String("failed_at", verdict.FailedAt),
			zap.String("reason", verdict.Reason),
		)
	}
	RecordVerification(verdict.Valid)
	c.JSON(http.StatusOK, gin.H{"lotId": lotID, "verdict": verdict})
}

// Public handles GET /public/lots/:lotId: the anonymous viewer page data.
func (h *LotHandler) Public(c *gin.Context) {
	v, err := h.svc.PublicLot(c.Request.Context(), c.Param("lotId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	RecordVerification(v.Trusted)
	c.JSON(http.StatusOK, v)
}

func (h *LotHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lots.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, lots.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, lots.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lots.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, lots.ErrTerminalLot),
		errors.Is(err, lots.ErrIllegalTransition),
		errors.Is(err, lots.ErrOutOfOrder),
		errors.Is(err, lots.ErrChainInvalid),
		errors.Is(err, ledger.ErrDuplicateEvent),
		errors.Is(err, ledger.ErrOutOfOrder),
		errors.Is(err, ledger.ErrHeadMoved),
		errors.Is(err, ledger.ErrForked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("lot request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
