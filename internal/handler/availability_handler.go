package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Eursukkul/studio-booking/internal/dto"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/service"
	"github.com/labstack/echo/v4"
)

type AvailabilityHandler struct {
	svc service.AvailabilityService
}

func NewAvailabilityHandler(svc service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc}
}

func (h *AvailabilityHandler) RegisterRoutes(api *echo.Group) {
	trainers := api.Group("/trainers/:id")
	trainers.GET("/availability", h.GetAvailability)
	trainers.POST("/availability-rules", h.CreateRule)
	trainers.GET("/availability-rules", h.ListRules)
	trainers.DELETE("/availability-rules/:ruleId", h.DeleteRule)
}

func (h *AvailabilityHandler) GetAvailability(c echo.Context) error {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}
	serviceID := c.QueryParam("service_id")
	if serviceID == "" {
		return badRequest("service_id is required")
	}
	var stride time.Duration
	if s := c.QueryParam("stride_minutes"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return badRequest("stride_minutes must be a positive integer")
		}
		stride = time.Duration(n) * time.Minute
	}

	res, err := h.svc.Windows(c.Request().Context(), service.WindowsQuery{
		TrainerID: c.Param("id"),
		ServiceID: serviceID,
		From:      from,
		To:        to,
		Stride:    stride,
	})
	if err != nil {
		return toHTTPError(err)
	}

	starts := res.Starts
	if starts == nil {
		starts = []time.Time{}
	}
	return c.JSON(http.StatusOK, dto.AvailabilityResponse{
		TrainerID:       c.Param("id"),
		ServiceID:       serviceID,
		DurationMinutes: int(res.Duration / time.Minute),
		Windows:         dto.ToWindowResponses(res.Windows),
		SlotStarts:      starts,
	})
}

func (h *AvailabilityHandler) CreateRule(c echo.Context) error {
	var req dto.CreateRuleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	rule := &models.AvailabilityRule{
		TrainerID: c.Param("id"),
		Kind:      models.RuleKind(req.Kind),
		Weekday:   req.Weekday,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Polarity:  models.RulePolarity(req.Polarity),
		Reason:    req.Reason,
	}
	var err error
	if rule.StartDate, err = parseDate(req.StartDate); err != nil {
		return badRequest("start_date must be YYYY-MM-DD")
	}
	if rule.EndDate, err = parseDate(req.EndDate); err != nil {
		return badRequest("end_date must be YYYY-MM-DD")
	}

	created, err := h.svc.CreateRule(c.Request().Context(), rule)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *AvailabilityHandler) ListRules(c echo.Context) error {
	rules, err := h.svc.ListRules(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if rules == nil {
		rules = []models.AvailabilityRule{}
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *AvailabilityHandler) DeleteRule(c echo.Context) error {
	if err := h.svc.DeleteRule(c.Request().Context(), c.Param("id"), c.Param("ruleId")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
