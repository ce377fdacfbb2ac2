package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/service"
)

// DeviceServiceHandler accepts field updates pushed by the trusted device
// service. Requests are authenticated by middleware.ServiceSignature.
type DeviceServiceHandler struct {
	Updates *service.PassUpdateService
}

func NewDeviceServiceHandler(updates *service.PassUpdateService) *DeviceServiceHandler {
	if updates == nil {
		panic("nil service passed to NewDeviceServiceHandler")
	}
	return &DeviceServiceHandler{Updates: updates}
}

// UpdateFields handles PATCH /v1/service/passes/:serial.
func (h *DeviceServiceHandler) UpdateFields(c echo.Context) error {
	serial := c.Param("serial")
	if serial == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid serial number"})
	}
	var req updateFieldsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "fields must be an object of strings"})
	}
	u, err := h.Updates.UpdateBySerial(c.Request().Context(), serial, service.UpdateInput{
		Fields:         req.Fields,
		ChangeMessages: req.ChangeMessages,
		Source:         model.SourceDeviceService,
	})
	if err != nil {
		return respondUpdateError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}
