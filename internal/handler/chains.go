package handler

import (
	"errors"
	"net/http"

	"github.com/agrisentinel/lotchain/pkg/custody"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChainHandler validates and hashes chains supplied by the caller. Nothing
// is read from or written to the ledger.
type ChainHandler struct {
	tieBreak custody.TieBreak
	logger   *zap.Logger
}

// NewChainHandler creates a ChainHandler. tieBreak applies when a request
// does not name one.
func NewChainHandler(tieBreak custody.TieBreak, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{tieBreak: tieBreak, logger: logger}
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	ch := rg.Group("/chains")
	{
		ch.POST("/validate", h.Validate)
		ch.POST("/hash", h.Hash)
	}
}

type validateRequest struct {
	Events   []custody.Event `json:"events"`
	TieBreak string          `json:"tieBreak"`
}

type hashRequest struct {
	Event    custody.Fields `json:"event"`
	PrevHash string         `json:"prevHash"`
}

// Validate handles POST /chains/validate: returns the verdict for an
// untrusted batch of one lot's events.
func (h *ChainHandler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tb := h.tieBreak
	if req.TieBreak != "" {
		var err error
		if tb, err = custody.ParseTieBreak(req.TieBreak); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	verdict, err := custody.Validate(req.Events, custody.WithTieBreak(tb))
	if err != nil {
		if errors.Is(err, custody.ErrMixedLots) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("validate chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
		return
	}

	RecordVerification(verdict.Valid)
	c.JSON(http.StatusOK, verdict)
}

// Hash handles POST /chains/hash: returns the canonical encoding and hash
// of one event's fields over an explicit predecessor.
func (h *ChainHandler) Hash(c *gin.Context) {
	var req hashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	canonical, err := custody.Encode(req.Event, req.PrevHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hash":      custody.Digest(canonical),
		"canonical": string(canonical),
	})
}
