// Package router wires the gateway's HTTP surface together: middleware
// chain, route tree, and the handler/admin constructors. Split out from
// package gateway itself since the handlers package needs to import
// gateway.Pipeline/Outcome, and a router living inside gateway would make
// that an import cycle.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/gateway"
	"github.com/nullstack-gw/nexusgate/internal/gateway/handlers"
	"github.com/nullstack-gw/nexusgate/internal/gateway/middleware"
)

// Deps bundles everything needed to build the gin.Engine.
type Deps struct {
	Config      *config.Manager
	Keys        *apikey.Manager
	Credentials *credential.Manager
	Pipeline    *gateway.Pipeline
}

// Build constructs the single gin.Engine fronting every surface this
// gateway exposes: the Claude/OpenAI chat endpoints, model listing, health,
// Prometheus metrics, and the admin CRUD surface. Grounded on the teacher's
// server.BuildEngines, collapsed from its two parallel OpenAI/Gemini engines
// into one engine since this gateway's two wire formats share one route
// tree rather than needing isolated middleware stacks.
func Build(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestID(), middleware.Metrics())

	h := handlers.New(deps.Pipeline, deps.Keys)
	admin := handlers.NewAdminHandlers(deps.Credentials, deps.Keys)

	r.GET("/health", handlers.Health)
	r.GET("/metrics", middleware.MetricsHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.Auth(deps.Keys), middleware.Quota(deps.Keys))
	{
		v1.POST("/messages", h.Messages)
		v1.POST("/chat/completions", h.ChatCompletions)
		v1.GET("/models", handlers.Models)
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuth(deps.Config))
	{
		adminGroup.GET("/credentials", admin.ListCredentials)
		adminGroup.POST("/credentials", admin.CreateCredential)
		adminGroup.POST("/credentials/:id/toggle", admin.ToggleCredential)
		adminGroup.DELETE("/credentials/:id", admin.DeleteCredential)

		adminGroup.GET("/keys", admin.ListKeys)
		adminGroup.POST("/keys", admin.CreateKey)
		adminGroup.POST("/keys/:id/toggle", admin.ToggleKey)
		adminGroup.DELETE("/keys/:id", admin.DeleteKey)
	}

	return r
}
