package handler

import (
	"errors"
	"net/http"

	"github.com/Eursukkul/studio-booking/internal/dto"
	"github.com/Eursukkul/studio-booking/internal/service"
	"github.com/labstack/echo/v4"
)

const (
	CodeValidation                = "validation_error"
	CodeSlotConflict              = "slot_conflict"
	CodeOutsideOperatingHours     = "outside_operating_hours"
	CodeInsufficientCredits       = "insufficient_credits"
	CodeInvalidTransition         = "invalid_transition"
	CodeAlreadyTerminal           = "already_terminal"
	CodeOutsideCancellationWindow = "outside_cancellation_window"
	CodeMissingDeclaration        = "missing_declaration"
	CodeNotBookingParty           = "not_booking_party"
	CodeBookingNotFound           = "booking_not_found"
	CodeTrainerNotFound           = "trainer_not_found"
	CodeStudioNotFound            = "studio_not_found"
	CodeServiceNotFound           = "service_not_found"
	CodeServiceInactive           = "service_inactive"
	CodeRuleNotFound              = "rule_not_found"
	CodePackageNotFound           = "package_not_found"
	CodeInvalidRule               = "invalid_rule"
	CodeInvalidRange              = "invalid_range"
	CodeInvalidAmount             = "invalid_amount"
	CodeInternal                  = "internal_error"
)

// Order matters: ErrAlreadyTerminal also matches ErrInvalidTransition.
var errorMappings = []struct {
	target error
	status int
	code   string
}{
	{service.ErrSlotConflict, http.StatusConflict, CodeSlotConflict},
	{service.ErrOutsideOperatingHours, http.StatusUnprocessableEntity, CodeOutsideOperatingHours},
	{service.ErrInsufficientCredits, http.StatusPaymentRequired, CodeInsufficientCredits},
	{service.ErrAlreadyTerminal, http.StatusConflict, CodeAlreadyTerminal},
	{service.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition},
	{service.ErrOutsideCancellationWindow, http.StatusUnprocessableEntity, CodeOutsideCancellationWindow},
	{service.ErrMissingDeclaration, http.StatusBadRequest, CodeMissingDeclaration},
	{service.ErrNotBookingParty, http.StatusForbidden, CodeNotBookingParty},
	{service.ErrBookingNotFound, http.StatusNotFound, CodeBookingNotFound},
	{service.ErrTrainerNotFound, http.StatusNotFound, CodeTrainerNotFound},
	{service.ErrStudioNotFound, http.StatusNotFound, CodeStudioNotFound},
	{service.ErrServiceNotFound, http.StatusNotFound, CodeServiceNotFound},
	{service.ErrServiceInactive, http.StatusUnprocessableEntity, CodeServiceInactive},
	{service.ErrRuleNotFound, http.StatusNotFound, CodeRuleNotFound},
	{service.ErrPackageNotFound, http.StatusNotFound, CodePackageNotFound},
	{service.ErrInvalidRule, http.StatusBadRequest, CodeInvalidRule},
	{service.ErrInvalidRange, http.StatusBadRequest, CodeInvalidRange},
	{service.ErrInvalidAmount, http.StatusBadRequest, CodeInvalidAmount},
}

// toHTTPError maps service errors to a status and a stable code. Anything
// unrecognised is a 500 and keeps the original error as Internal for logging.
func toHTTPError(err error) *echo.HTTPError {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return echo.NewHTTPError(m.status, dto.ErrorResponse{Code: m.code, Message: err.Error()})
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, dto.ErrorResponse{
		Code:    CodeInternal,
		Message: "internal server error",
	}).SetInternal(err)
}

func badRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, dto.ErrorResponse{Code: CodeValidation, Message: msg})
}
