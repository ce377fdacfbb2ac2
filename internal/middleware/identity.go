package middleware

// identity.go holds helpers that read the authenticated principal from the
// Echo context. JWTAuth stores the raw "sub" claim, ScannerAuth the
// resolved scanner link.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

const scannerLinkKey = "scanner_link"

// UserID returns the numeric owner ID stored by JWTAuth. The subject may
// arrive as a decimal string or, from older issuers, as a JSON number.
func UserID(c echo.Context) (uint64, bool) {
	return parseUserID(c.Get("user_id"))
}

func parseUserID(v any) (uint64, bool) {
	switch t := v.(type) {
	case string:
		id, err := strconv.ParseUint(t, 10, 64)
		return id, err == nil && id > 0
	case float64:
		if t <= 0 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint64(t), true
	}
	return 0, false
}

// ScannerLink returns the link resolved by ScannerAuth.
func ScannerLink(c echo.Context) (*model.ScannerLink, bool) {
	l, ok := c.Get(scannerLinkKey).(*model.ScannerLink)
	return l, ok && l != nil
}

// principal names the caller for rate limiting: the owner, the scanner
// link or the wallet device, falling back to "anon".
func principal(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return "user:" + strconv.FormatUint(id, 10)
	}
	if l, ok := ScannerLink(c); ok {
		return "scanner:" + strconv.FormatUint(l.ID, 10)
	}
	if d := c.Param("device"); d != "" {
		return "device:" + d
	}
	return "anon"
}
