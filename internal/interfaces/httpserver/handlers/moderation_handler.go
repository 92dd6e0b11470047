package handlers

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/interfaces/httpserver/responses"
	"capsule-server/services/capsule-api/internal/utils/platformerrors"
)

// BlocklistWriter records content hashes on the shared safety deny-list.
type BlocklistWriter interface {
	AddToBlocklist(ctx context.Context, hash string) error
}

var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ModerationHandler exposes the moderation write surface: blocking a content
// hash denies every future publish of the same bundle across all owners.
type ModerationHandler struct {
	blocklist BlocklistWriter
	log       zerolog.Logger
}

func NewModerationHandler(blocklist BlocklistWriter, log zerolog.Logger) *ModerationHandler {
	return &ModerationHandler{
		blocklist: blocklist,
		log:       log.With().Str("component", "moderation-handler").Logger(),
	}
}

type blockHashRequest struct {
	ContentHash string `json:"contentHash" binding:"required"`
}

// BlockHash adds a content hash to the shared blocklist.
func (h *ModerationHandler) BlockHash(c *gin.Context) {
	if h.blocklist == nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeInternal,
			"blocklist store is not configured", "8c9d0e1f-2a3b-4c4d-9e6f-7a8b9c0d1e2f")
		return
	}

	var req blockHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation,
			err.Error(), "9d0e1f2a-3b4c-4d5e-8f7a-8b9c0d1e2f3a")
		return
	}
	if !contentHashPattern.MatchString(req.ContentHash) {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation,
			"contentHash must be a lowercase hex sha-256 digest", "0e1f2a3b-4c5d-4e6f-9a8b-9c0d1e2f3a4b")
		return
	}

	if err := h.blocklist.AddToBlocklist(c.Request.Context(), req.ContentHash); err != nil {
		responses.HandleError(c, err, "blocklist update failed")
		return
	}

	h.log.Info().Str("content_hash", req.ContentHash).Msg("content hash added to blocklist")
	c.Status(http.StatusNoContent)
}
