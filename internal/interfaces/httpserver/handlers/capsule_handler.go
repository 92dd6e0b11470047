package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/config"
	domain "capsule-server/services/capsule-api/internal/domain/capsule"
	"capsule-server/services/capsule-api/internal/domain/sandbox"
	"capsule-server/services/capsule-api/internal/interfaces/httpserver/responses"
	"capsule-server/services/capsule-api/internal/utils/platformerrors"
	"capsule-server/services/capsule-api/utils/capsuleid"
)

// CapsuleHandler exposes the publish pipeline endpoints.
type CapsuleHandler struct {
	cfg     *config.Config
	service *domain.Service
	log     zerolog.Logger
}

func NewCapsuleHandler(cfg *config.Config, service *domain.Service, log zerolog.Logger) *CapsuleHandler {
	return &CapsuleHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "capsule-handler").Logger(),
	}
}

type publishFile struct {
	Path     string `json:"path" binding:"required"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"` // "base64" for binary payloads
}

type publishRequest struct {
	Manifest json.RawMessage `json:"manifest" binding:"required"`
	Files    []publishFile   `json:"files" binding:"required"`
	ParentID *string         `json:"parentId,omitempty"`
}

// Publish accepts a manifest plus named file payloads and runs the full
// pipeline. The response mirrors the pipeline outcome, including a null
// artifact when compilation failed non-fatally.
func (h *CapsuleHandler) Publish(c *gin.Context) {
	ownerID := h.ownerFromRequest(c)
	if ownerID == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized,
			"publish requires an authenticated owner", "4e5f6a7b-8c9d-4e0f-1a2b-3c4d5e6f7a8b")
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation,
			err.Error(), "5f6a7b8c-9d0e-4f1a-2b3c-4d5e6f7a8b9c")
		return
	}

	files := make([]domain.File, len(req.Files))
	for i, f := range req.Files {
		content := []byte(f.Content)
		if f.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				responses.HandleNewError(c, platformerrors.ErrorTypeValidation,
					"file "+f.Path+" is not valid base64", "6a7b8c9d-0e1f-4a2b-3c4d-5e6f7a8b9c0e")
				return
			}
			content = decoded
		}
		files[i] = domain.File{Path: f.Path, Content: content}
	}

	result, err := h.service.Publish(c.Request.Context(), domain.PublishRequest{
		OwnerID:  ownerID,
		Manifest: req.Manifest,
		Files:    files,
		ParentID: req.ParentID,
	})
	if err != nil {
		h.fail(c, err, "publish failed")
		return
	}

	c.JSON(http.StatusCreated, result)
}

// Get returns a capsule after integrity verification.
func (h *CapsuleHandler) Get(c *gin.Context) {
	if !capsuleid.IsValid("cap_", c.Param("id")) {
		responses.HandleNewError(c, platformerrors.ErrorTypeNotFound,
			"capsule not found", "1f2a3b4c-5d6e-4f7a-8b9c-0d1e2f3a4b5c")
		return
	}

	capsule, err := h.service.GetCapsule(c.Request.Context(), c.Param("id"))
	if err != nil {
		if platformerrors.IsErrorType(err, platformerrors.ErrorTypeIntegrity) {
			h.log.Error().
				Str("capsule_id", c.Param("id")).
				Msg("stored bundle failed integrity verification")
		}
		h.fail(c, err, "capsule lookup failed")
		return
	}

	// Quarantined capsules are visible only to their owner.
	if capsule.Quarantined && capsule.OwnerID != h.ownerFromRequest(c) {
		responses.HandleNewError(c, platformerrors.ErrorTypeNotFound,
			"capsule not found", "7b8c9d0e-1f2a-4b3c-4d5e-6f7a8b9c0d1f")
		return
	}

	assets, err := h.service.CapsuleAssets(c.Request.Context(), capsule.ID)
	if err != nil {
		h.fail(c, err, "capsule asset lookup failed")
		return
	}
	assetList := make([]responses.AssetResponse, len(assets))
	for i, a := range assets {
		assetList[i] = responses.AssetResponse{Path: a.Path, MimeType: a.MimeType, SizeBytes: a.SizeBytes}
	}

	c.JSON(http.StatusOK, responses.CapsuleResponse{
		ID:          capsule.ID,
		OwnerID:     capsule.OwnerID,
		Manifest:    capsule.Manifest,
		ContentHash: capsule.ContentHash,
		TotalSize:   capsule.TotalSize,
		FileCount:   capsule.FileCount,
		Quarantined: capsule.Quarantined,
		ParentID:    capsule.ParentID,
		Assets:      assetList,
		CreatedAt:   capsule.CreatedAt,
	})
}

// Delete removes a capsule, its artifacts, the blob if unreferenced, and
// credits the owner's quota.
func (h *CapsuleHandler) Delete(c *gin.Context) {
	if !capsuleid.IsValid("cap_", c.Param("id")) {
		responses.HandleNewError(c, platformerrors.ErrorTypeNotFound,
			"capsule not found", "2a3b4c5d-6e7f-4a8b-9c0d-1e2f3a4b5c6d")
		return
	}

	if err := h.service.DeleteCapsule(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "capsule delete failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// ArtifactManifest serves the latest runtime manifest for the frame loader.
// The stored document is patched with a per-load CSP nonce; the matching
// policy and iframe sandbox tokens travel as headers so the loader can apply
// them without a second round trip.
func (h *CapsuleHandler) ArtifactManifest(c *gin.Context) {
	raw, err := h.service.GetArtifactManifest(c.Request.Context(), c.Param("id"), h.ownerFromRequest(c))
	if err != nil {
		h.fail(c, err, "artifact manifest lookup failed")
		return
	}

	nonce, err := sandbox.NewNonce()
	if err != nil {
		h.fail(c, err, "csp nonce generation failed")
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeInternal,
			"stored manifest is not valid JSON", "3b4c5d6e-7f8a-4b9c-8d0e-1f2a3b4c5d6e")
		return
	}
	doc["cspNonce"] = nonce

	policy := sandbox.Policy{
		BundleOrigin:     h.cfg.BundleOrigin,
		AllowHTTPSEgress: h.cfg.AllowsHTTPSEgress(),
	}
	c.Header("Content-Security-Policy", policy.CSP(nonce))
	c.Header("X-Frame-Sandbox", strings.Join(sandbox.FrameSandboxTokens(), " "))
	c.JSON(http.StatusOK, doc)
}

// Recompile rebuilds an artifact against the current runtime assets and
// returns the new manifest version.
func (h *CapsuleHandler) Recompile(c *gin.Context) {
	raw, err := h.service.RecompileArtifact(c.Request.Context(), c.Param("id"), h.ownerFromRequest(c))
	if err != nil {
		h.fail(c, err, "artifact recompile failed")
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// Quota returns the owner's plan, usage and limits.
func (h *CapsuleHandler) Quota(c *gin.Context) {
	status, err := h.service.Quota(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		h.fail(c, err, "quota lookup failed")
		return
	}

	account := status.Account
	limits := account.Plan.Limits()
	c.JSON(http.StatusOK, responses.QuotaResponse{
		Plan: string(account.Plan),
		Usage: responses.QuotaUsage{
			Storage:    account.StorageUsageBytes,
			Runs:       account.RunsUsed,
			BundleSize: status.LargestBundle,
		},
		Limits: responses.QuotaLimits{
			MaxStorage:    limits.MaxStorageBytes,
			MaxRuns:       limits.MaxRuns,
			MaxBundleSize: limits.MaxBundleBytes,
		},
	})
}

// fail wraps a service error with handler-layer context, logs it with its
// structured fields, and writes the mapped HTTP response.
func (h *CapsuleHandler) fail(c *gin.Context, err error, message string) {
	wrapped := platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, message)
	platformerrors.LogError(h.log, wrapped)
	responses.HandleError(c, wrapped, message)
}

// ownerFromRequest resolves the caller identity: the validated token subject
// when auth is enabled, the X-Owner-ID header otherwise (development only).
func (h *CapsuleHandler) ownerFromRequest(c *gin.Context) string {
	if subject := c.GetString("auth_subject"); subject != "" {
		return subject
	}
	if !h.cfg.AuthEnabled {
		return c.GetHeader("X-Owner-ID")
	}
	return ""
}
