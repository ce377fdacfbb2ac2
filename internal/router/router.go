package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/wallet-pass-engine/internal/handler"
	"github.com/iliyamo/wallet-pass-engine/internal/middleware"
)

// New returns an Echo instance with the request-scoped middleware every
// route shares: request IDs, panic recovery and the access log.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID)
	e.Use(middleware.Recoverer)
	e.Use(middleware.Logger)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterDeviceService mounts the signed device-service update route.
// The body HMAC is verified before the handler runs.
func RegisterDeviceService(e *echo.Echo, h *handler.DeviceServiceHandler, secret string) {
	g := e.Group("/v1/service", middleware.ServiceSignature(secret))
	g.PATCH("/passes/:serial", h.UpdateFields)
}

// RegisterScanner mounts the redemption endpoints. The scanner token is
// resolved before rate limiting so the limiter can key on the link.
func RegisterScanner(e *echo.Echo, h *handler.ScannerHandler, links middleware.ScannerLinkFinder, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/scan", middleware.ScannerAuth(links), limiter)
	g.POST("/redeem", h.Redeem)
	g.POST("/validate", h.Validate)
}

// RegisterWallet mounts the Apple Wallet device web service under
// /wallet/v1. Authentication is per pass and happens in the handler.
func RegisterWallet(e *echo.Echo, h *handler.WalletHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/wallet/v1", limiter)
	g.POST("/devices/:device/registrations/:passType/:serial", h.RegisterDevice)
	g.DELETE("/devices/:device/registrations/:passType/:serial", h.UnregisterDevice)
	g.GET("/devices/:device/registrations/:passType", h.UpdatedSerials)
	g.GET("/passes/:passType/:serial", h.LatestPass)
	g.POST("/log", h.Log)
}
