package handler

import (
	"net/http"
	"time"

	"github.com/Eursukkul/studio-booking/internal/dto"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/Eursukkul/studio-booking/internal/service"
	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"
)

type BookingHandler struct {
	svc service.BookingService
}

func NewBookingHandler(svc service.BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

func (h *BookingHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/bookings", h.CreateBooking)
	api.GET("/bookings/:id", h.GetBooking)
	api.POST("/bookings/:id/confirm", h.ConfirmBooking)
	api.POST("/bookings/:id/check-in", h.CheckInBooking)
	api.POST("/bookings/:id/complete", h.CompleteBooking)
	api.POST("/bookings/:id/cancel", h.CancelBooking)

	api.GET("/trainers/:id/bookings", h.ListTrainerBookings)
	api.GET("/clients/:id/bookings", h.ListClientBookings)
}

func (h *BookingHandler) CreateBooking(c echo.Context) error {
	var req dto.CreateBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	booking, err := h.svc.Create(c.Request().Context(), service.CreateBookingInput{
		ClientID:  req.ClientID,
		TrainerID: req.TrainerID,
		ServiceID: req.ServiceID,
		StartsAt:  req.StartTime,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, dto.ToBookingResponse(booking))
}

func (h *BookingHandler) GetBooking(c echo.Context) error {
	booking, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *BookingHandler) ConfirmBooking(c echo.Context) error {
	booking, err := h.svc.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *BookingHandler) CheckInBooking(c echo.Context) error {
	booking, err := h.svc.CheckIn(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *BookingHandler) CompleteBooking(c echo.Context) error {
	var req dto.CompleteBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	booking, err := h.svc.Complete(c.Request().Context(), c.Param("id"), datatypes.JSON(req.Declaration))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *BookingHandler) CancelBooking(c echo.Context) error {
	var req dto.CancelBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	booking, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), req.ActorID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *BookingHandler) ListTrainerBookings(c echo.Context) error {
	f, err := bookingFilter(c)
	if err != nil {
		return err
	}
	bookings, err := h.svc.ListForTrainer(c.Request().Context(), c.Param("id"), f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponses(bookings))
}

func (h *BookingHandler) ListClientBookings(c echo.Context) error {
	f, err := bookingFilter(c)
	if err != nil {
		return err
	}
	bookings, err := h.svc.ListForClient(c.Request().Context(), c.Param("id"), f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponses(bookings))
}

func bookingFilter(c echo.Context) (repository.BookingFilter, error) {
	var f repository.BookingFilter
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, badRequest("from must be RFC3339")
		}
		f.From = &t
	}
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, badRequest("to must be RFC3339")
		}
		f.To = &t
	}
	if s := c.QueryParam("state"); s != "" {
		st := models.BookingState(s)
		f.State = &st
	}
	return f, nil
}

func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	s := c.QueryParam(name)
	if s == "" {
		return time.Time{}, badRequest(name + " is required")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, badRequest(name + " must be RFC3339")
	}
	return t, nil
}
