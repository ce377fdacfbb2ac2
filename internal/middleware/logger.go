package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
)

// Logger writes one access log line per request.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		res := c.Response()
		logs.Logger.WithFields(logrus.Fields{
			"reqid":  GetRequestID(c),
			"method": c.Request().Method,
			"uri":    c.Request().RequestURI,
			"status": res.Status,
			"bytes":  res.Size,
			"dur":    time.Since(start).String(),
			"ip":     c.RealIP(),
		}).Info("request")
		return nil
	}
}
