package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/handler"    // owner handlers
	"github.com/iliyamo/wallet-pass-engine/internal/middleware" // JWT + role middlewares
)

// OwnerRoles may manage passes.
var OwnerRoles = []string{"MERCHANT", "ADMIN"}

// RegisterOwner registers merchant-scoped pass endpoints under /v1.
// All routes require a valid JWT and one of OwnerRoles.
func RegisterOwner(e *echo.Echo, o *handler.OwnerHandler, jwtSecret string) {
	// Attach middlewares at group construction time for clarity.
	g := e.Group(
		"/v1/passes",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(OwnerRoles...),
	)

	// ---- Bulk updates ----
	// Static segments win over :id in Echo's router, so these never reach
	// the per-pass handlers below.
	g.POST("/bulk-update", o.StartBulkUpdate)
	g.GET("/bulk-update/:id", o.GetBulkUpdate)

	// ---- Single pass ----
	g.PATCH("/:id", o.UpdateFields)
	g.GET("/:id/updates", o.ListUpdates)
	g.GET("/:id/scans", o.ListScans)
}
