package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/middleware"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/service"
)

// ScannerHandler serves redeem and validate calls from physical scanners.
// The scanner link is resolved by middleware.ScannerAuth.
type ScannerHandler struct {
	Engine *service.RedemptionEngine
	now    func() time.Time
}

func NewScannerHandler(engine *service.RedemptionEngine) *ScannerHandler {
	if engine == nil {
		panic("nil engine passed to NewScannerHandler")
	}
	return &ScannerHandler{Engine: engine, now: time.Now}
}

type scanRequest struct {
	Serial    string `json:"serial"`
	Signature string `json:"signature"`
}

// scannedPass is the pass as shown to a scanner.
type scannedPass struct {
	ID           uint64            `json:"id"`
	SerialNumber string            `json:"serial_number"`
	Status       model.PassStatus  `json:"status"`
	UsageType    model.UsageType   `json:"usage_type"`
	RedeemedAt   *time.Time        `json:"redeemed_at"`
	VoidedAt     *time.Time        `json:"voided_at"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Data         map[string]string `json:"pass_data"`
}

type scanFunc func(ctx context.Context, sc service.ScanContext, serial, signature string) (*service.ScanOutcome, error)

// Redeem handles POST /v1/scan/redeem.
func (h *ScannerHandler) Redeem(c echo.Context) error {
	return h.scan(c, h.Engine.Redeem)
}

// Validate handles POST /v1/scan/validate.
func (h *ScannerHandler) Validate(c echo.Context) error {
	return h.scan(c, h.Engine.Validate)
}

func (h *ScannerHandler) scan(c echo.Context, run scanFunc) error {
	link, ok := middleware.ScannerLink(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "unauthorized"})
	}
	var req scanRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Serial) == "" {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"success": false, "error": "serial is required"})
	}
	sc := service.ScanContext{
		UserID:        link.UserID,
		ScannerLinkID: link.ID,
		IPAddress:     c.RealIP(),
		UserAgent:     c.Request().UserAgent(),
	}
	out, err := run(c.Request().Context(), sc, strings.TrimSpace(req.Serial), req.Signature)
	if err != nil {
		k := service.KindOf(err)
		if k == 0 {
			logs.Logger.WithError(err).WithField("reqid", middleware.GetRequestID(c)).Error("scan failed")
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "internal error"})
		}
		return c.JSON(statusFor(k), echo.Map{"success": false, "error": err.Error()})
	}

	p := out.Pass
	status := p.Status(h.now())
	view := scannedPass{
		ID:           p.ID,
		SerialNumber: p.SerialNumber,
		Status:       status,
		UsageType:    p.UsageType,
		RedeemedAt:   p.RedeemedAt,
		VoidedAt:     p.VoidedAt,
		ExpiresAt:    p.ExpiresAt,
		Data:         p.Data,
	}
	if out.Success {
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"message": out.Message,
			"status":  status,
			"pass":    view,
		})
	}
	code := http.StatusUnprocessableEntity
	if out.Result == model.ResultAlreadyRedeemed {
		code = http.StatusConflict
	}
	return c.JSON(code, echo.Map{
		"success": false,
		"error":   out.Message,
		"result":  out.Result,
		"pass":    view,
	})
}
