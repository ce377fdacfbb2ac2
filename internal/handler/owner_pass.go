package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/service"
)

// OwnerHandler serves the merchant-facing pass endpoints.
type OwnerHandler struct {
	Updates *service.PassUpdateService
	Scans   *service.ScanEventRecorder
	Bulk    *service.BulkUpdateCoordinator
}

// NewOwnerHandler constructs a new OwnerHandler and panics if any dependency is nil.
func NewOwnerHandler(updates *service.PassUpdateService, scans *service.ScanEventRecorder, bulk *service.BulkUpdateCoordinator) *OwnerHandler {
	if updates == nil || scans == nil || bulk == nil {
		panic("nil service passed to NewOwnerHandler")
	}
	return &OwnerHandler{Updates: updates, Scans: scans, Bulk: bulk}
}

// updateFieldsRequest is the body of a field update.
type updateFieldsRequest struct {
	Fields         map[string]string `json:"fields"`
	ChangeMessages []string          `json:"change_messages"`
}

// UpdateFields handles PATCH /v1/passes/:id.
func (h *OwnerHandler) UpdateFields(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	passID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	var req updateFieldsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "fields must be an object of strings"})
	}
	u, err := h.Updates.UpdatePassFields(c.Request().Context(), passID, service.UpdateInput{
		Fields:         req.Fields,
		ChangeMessages: req.ChangeMessages,
		Initiator:      service.Initiator{UserID: ownerID},
		Source:         model.SourceAPI,
	})
	if err != nil {
		return respondUpdateError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// ListUpdates handles GET /v1/passes/:id/updates?page=.
func (h *OwnerHandler) ListUpdates(c echo.Context) error {
	scope, err := ownerScope(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	passID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	page, err := h.Updates.History(c.Request().Context(), scope, passID, queryPage(c))
	if err != nil {
		return respondError(c, err, "failed to load updates")
	}
	return c.JSON(http.StatusOK, page)
}

// ListScans handles GET /v1/passes/:id/scans?page=.
func (h *OwnerHandler) ListScans(c echo.Context) error {
	scope, err := ownerScope(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	passID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	page, err := h.Scans.List(c.Request().Context(), scope, passID, queryPage(c))
	if err != nil {
		return respondError(c, err, "failed to load scan events")
	}
	return c.JSON(http.StatusOK, page)
}

// bulkUpdateRequest is the body of POST /v1/passes/bulk-update.
type bulkUpdateRequest struct {
	TemplateID uint64           `json:"template_id"`
	FieldKey   string           `json:"field_key"`
	FieldValue string           `json:"field_value"`
	Filters    model.PassFilter `json:"filters"`
}

// StartBulkUpdate handles POST /v1/passes/bulk-update. The job runs in the
// background; the response carries its id and the number of passes it
// will touch.
func (h *OwnerHandler) StartBulkUpdate(c echo.Context) error {
	scope, err := ownerScope(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req bulkUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid request body"})
	}
	if req.TemplateID == 0 {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "template_id is required"})
	}
	job, err := h.Bulk.Start(c.Request().Context(), scope, service.BulkUpdateRequest{
		TemplateID: req.TemplateID,
		FieldKey:   req.FieldKey,
		FieldValue: req.FieldValue,
		Filter:     req.Filters,
	})
	if err != nil {
		return respondError(c, err, "failed to start bulk update")
	}
	return c.JSON(http.StatusAccepted, echo.Map{
		"id":          job.ID,
		"status":      job.Status,
		"total_count": job.TotalCount,
	})
}

// GetBulkUpdate handles GET /v1/passes/bulk-update/:id.
func (h *OwnerHandler) GetBulkUpdate(c echo.Context) error {
	scope, err := ownerScope(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid bulk update id"})
	}
	job, err := h.Bulk.Get(c.Request().Context(), scope, id)
	if err != nil {
		return respondError(c, err, "failed to load bulk update")
	}
	return c.JSON(http.StatusOK, job)
}
