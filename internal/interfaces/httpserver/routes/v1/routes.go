package v1

import (
	"github.com/gin-gonic/gin"

	"capsule-server/services/capsule-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under /v1 prefix.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1")
	group.POST("/capsules", r.handlers.Capsule.Publish)
	group.GET("/capsules/:id", r.handlers.Capsule.Get)
	group.DELETE("/capsules/:id", r.handlers.Capsule.Delete)
	group.GET("/artifacts/:id/manifest", r.handlers.Capsule.ArtifactManifest)
	group.POST("/artifacts/:id/recompile", r.handlers.Capsule.Recompile)
	group.GET("/accounts/:ownerId/quota", r.handlers.Capsule.Quota)
	group.POST("/moderation/blocklist", r.handlers.Moderation.BlockHash)
}
