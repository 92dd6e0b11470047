package handlers

import (
	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/config"
	domain "capsule-server/services/capsule-api/internal/domain/capsule"
)

// Provider wires HTTP handlers.
type Provider struct {
	Capsule    *CapsuleHandler
	Moderation *ModerationHandler
}

func NewProvider(cfg *config.Config, service *domain.Service, blocklist BlocklistWriter, log zerolog.Logger) *Provider {
	return &Provider{
		Capsule:    NewCapsuleHandler(cfg, service, log),
		Moderation: NewModerationHandler(blocklist, log),
	}
}
