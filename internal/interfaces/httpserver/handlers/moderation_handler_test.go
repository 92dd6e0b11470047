package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/interfaces/httpserver/handlers"
)

type recordingBlocklist struct {
	hashes []string
}

func (r *recordingBlocklist) AddToBlocklist(_ context.Context, hash string) error {
	r.hashes = append(r.hashes, hash)
	return nil
}

func newModerationRouter(writer handlers.BlocklistWriter) *gin.Engine {
	handler := handlers.NewModerationHandler(writer, zerolog.Nop())
	engine := gin.New()
	engine.POST("/v1/moderation/blocklist", handler.BlockHash)
	return engine
}

func TestBlockHashRecordsDigest(t *testing.T) {
	writer := &recordingBlocklist{}
	engine := newModerationRouter(writer)

	digest := strings.Repeat("ab", 32)
	recorder := doRequest(t, engine, http.MethodPost, "/v1/moderation/blocklist", "mod-1",
		map[string]any{"contentHash": digest})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(writer.hashes) != 1 || writer.hashes[0] != digest {
		t.Fatalf("expected digest recorded once, got %v", writer.hashes)
	}
}

func TestBlockHashRejectsMalformedDigest(t *testing.T) {
	writer := &recordingBlocklist{}
	engine := newModerationRouter(writer)

	for _, hash := range []string{"", "not-a-digest", strings.Repeat("AB", 32)} {
		body := map[string]any{"contentHash": hash}
		recorder := doRequest(t, engine, http.MethodPost, "/v1/moderation/blocklist", "mod-1", body)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("hash %q: expected 400, got %d", hash, recorder.Code)
		}
	}
	if len(writer.hashes) != 0 {
		t.Fatalf("malformed digests must not be recorded, got %v", writer.hashes)
	}
}

func TestBlockHashWithoutStore(t *testing.T) {
	engine := newModerationRouter(nil)

	recorder := doRequest(t, engine, http.MethodPost, "/v1/moderation/blocklist", "mod-1",
		map[string]any{"contentHash": strings.Repeat("cd", 32)})
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when no blocklist store is wired, got %d", recorder.Code)
	}
}
