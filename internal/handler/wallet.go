package handler

// wallet.go implements the Apple Wallet device web service. Devices
// authenticate with "Authorization: ApplePass <token>" where the token is
// the per-pass authentication token embedded in the pass.

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/service"
)

const pkpassContentType = "application/vnd.apple.pkpass"

// WalletHandler serves registered wallet devices.
type WalletHandler struct {
	Wallet *service.WalletService
}

func NewWalletHandler(wallet *service.WalletService) *WalletHandler {
	if wallet == nil {
		panic("nil service passed to NewWalletHandler")
	}
	return &WalletHandler{Wallet: wallet}
}

// applePassToken returns the token of an ApplePass authorization header.
func applePassToken(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "ApplePass ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "ApplePass "))
}

type registerDeviceRequest struct {
	PushToken string `json:"pushToken"`
}

// RegisterDevice handles
// POST /wallet/v1/devices/:device/registrations/:passType/:serial.
// 201 for a new registration, 200 when it already existed.
func (h *WalletHandler) RegisterDevice(c echo.Context) error {
	var req registerDeviceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	created, err := h.Wallet.RegisterDevice(c.Request().Context(),
		c.Param("device"), c.Param("passType"), c.Param("serial"), applePassToken(c), req.PushToken)
	if err != nil {
		return respondError(c, err, "failed to register device")
	}
	if created {
		return c.NoContent(http.StatusCreated)
	}
	return c.NoContent(http.StatusOK)
}

// UnregisterDevice handles
// DELETE /wallet/v1/devices/:device/registrations/:passType/:serial.
func (h *WalletHandler) UnregisterDevice(c echo.Context) error {
	err := h.Wallet.UnregisterDevice(c.Request().Context(),
		c.Param("device"), c.Param("passType"), c.Param("serial"), applePassToken(c))
	if err != nil {
		return respondError(c, err, "failed to unregister device")
	}
	return c.NoContent(http.StatusOK)
}

// UpdatedSerials handles
// GET /wallet/v1/devices/:device/registrations/:passType?passesUpdatedSince=.
// The tag is the lastUpdated value returned by a prior call.
func (h *WalletHandler) UpdatedSerials(c echo.Context) error {
	var since *time.Time
	if raw := c.QueryParam("passesUpdatedSince"); raw != "" {
		t, ok := service.ParseUpdatedTag(raw)
		if !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid passesUpdatedSince"})
		}
		since = &t
	}
	res, err := h.Wallet.UpdatedSerials(c.Request().Context(), c.Param("device"), c.Param("passType"), since)
	if err != nil {
		return respondError(c, err, "failed to list updated passes")
	}
	if res == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, res)
}

// LatestPass handles GET /wallet/v1/passes/:passType/:serial. It honours
// If-Modified-Since against the pass's updated_at.
func (h *WalletHandler) LatestPass(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.Wallet.AuthenticatePass(ctx, c.Param("passType"), c.Param("serial"), applePassToken(c))
	if err != nil {
		return respondError(c, err, "failed to load pass")
	}
	modified := p.UpdatedAt.UTC().Truncate(time.Second)
	if ims := c.Request().Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !modified.After(t) {
			return c.NoContent(http.StatusNotModified)
		}
	}
	data, err := h.Wallet.PassFile(ctx, p)
	if err != nil {
		return respondError(c, err, "failed to build pass")
	}
	c.Response().Header().Set("Last-Modified", modified.Format(http.TimeFormat))
	return c.Blob(http.StatusOK, pkpassContentType, data)
}

type deviceLogRequest struct {
	Logs []string `json:"logs"`
}

// Log handles POST /wallet/v1/log, where devices report problems with
// the web service.
func (h *WalletHandler) Log(c echo.Context) error {
	var req deviceLogRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	for _, msg := range req.Logs {
		logs.Logger.WithFields(logrus.Fields{"ip": c.RealIP(), "source": "wallet-device"}).Warn(msg)
	}
	return c.NoContent(http.StatusOK)
}
