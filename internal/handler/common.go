package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/middleware"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/service"
)

// getUserID extracts the authenticated owner from echo.Context.
func getUserID(c echo.Context) (uint64, error) {
	if id, ok := middleware.UserID(c); ok {
		return id, nil
	}
	return 0, errors.New("invalid user_id in context")
}

// ownerScope is the tenant scope of the authenticated owner.
func ownerScope(c echo.Context) (repository.Scope, error) {
	id, err := getUserID(c)
	if err != nil {
		return repository.Scope{}, err
	}
	return repository.Scope{UserID: id}, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryPage parses ?page=, defaulting to the first page.
func queryPage(c echo.Context) int {
	p, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || p < 1 {
		return 1
	}
	return p
}

func statusFor(k service.Kind) int {
	switch k {
	case service.KindValidation:
		return http.StatusUnprocessableEntity
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg} with the status of the error kind.
// Internal errors are logged and masked.
func respondError(c echo.Context, err error, what string) error {
	k := service.KindOf(err)
	if k == 0 {
		logs.Logger.WithError(err).WithField("reqid", middleware.GetRequestID(c)).Error(what)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": what})
	}
	return c.JSON(statusFor(k), echo.Map{"error": err.Error()})
}

// respondUpdateError is respondError for field updates, where state
// conflicts are reported under "message".
func respondUpdateError(c echo.Context, err error) error {
	if service.KindOf(err) == service.KindConflict {
		return c.JSON(http.StatusConflict, echo.Map{"message": err.Error()})
	}
	return respondError(c, err, "failed to update pass")
}
