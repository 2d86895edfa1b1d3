package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	_ "heartsync/docs"
	"heartsync/internal/api/handler"
	"heartsync/pkg/router"
)

// RegisterRoutes wires the session API onto the router.
func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.GET("/api/v1/health", h.Health)
	r.POST("/api/v1/sessions", h.CreateSession)
	// More specific routes first
	r.POST("/api/v1/sessions/*/end", h.EndSession)
	r.POST("/api/v1/sessions/*/sync", h.SyncSession)
	r.GET("/api/v1/sessions/*/result", h.GetResult)
	r.GET("/api/v1/sessions/*/attempts", h.GetAttempts)
	r.PUT("/api/v1/users/*/credentials", h.PutCredentials)
	// Generic session route last
	r.GET("/api/v1/sessions/*", h.GetSession)

	r.Mount("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}
