package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
)

// Recoverer turns a handler panic into a logged 500.
func Recoverer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				reqid := GetRequestID(c)
				logs.Logger.Errorf("panic: %v reqid=%s uri=%s method=%s\nstack:\n%s",
					rec, reqid, c.Request().RequestURI, c.Request().Method, string(debug.Stack()))
				err = c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "reqid": reqid})
			}
		}()
		return next(c)
	}
}
