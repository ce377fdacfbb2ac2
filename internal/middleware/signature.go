package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/utils"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) on device-service
// requests.
const SignatureHeader = "X-Signature"

// maxSignedBody bounds how much of a signed request is buffered.
const maxSignedBody = 1 << 20

// ServiceSignature authenticates the device service by an HMAC over the
// raw request body. The body is restored for the handler.
func ServiceSignature(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sig := c.Request().Header.Get(SignatureHeader)
			if sig == "" || secret == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing signature"})
			}
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSignedBody+1))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
			}
			if len(body) > maxSignedBody {
				return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "body too large"})
			}
			if !utils.VerifyHex(secret, body, sig) {
				logs.Logger.WithField("ip", c.RealIP()).Warn("device service signature mismatch")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}
