package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/utils"
)

// ScannerLinkFinder resolves a hashed scanner token.
type ScannerLinkFinder interface {
	FindScannerLinkByTokenHash(ctx context.Context, tokenHash string) (*model.ScannerLink, error)
}

// ScannerAuth resolves the Bearer token of a scanner to its active link
// and stores it for ScannerLink(c). Unknown or inactive tokens get 401.
func ScannerAuth(links ScannerLinkFinder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			link, err := links.FindScannerLinkByTokenHash(c.Request().Context(), utils.HashToken(raw))
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid scanner token"})
			}
			if err != nil {
				logs.Logger.WithError(err).Error("scanner link lookup failed")
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			c.Set(scannerLinkKey, link)
			return next(c)
		}
	}
}
