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

type CreditHandler struct {
	svc service.CreditService
}

func NewCreditHandler(svc service.CreditService) *CreditHandler {
	return &CreditHandler{svc: svc}
}

func (h *CreditHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/clients/:id/credits", h.GetCredits)
	api.GET("/clients/:id/ledger", h.GetLedger)
	api.POST("/clients/:id/packages", h.GrantPackage)
	api.POST("/packages/:id/adjustments", h.AdjustPackage)
}

func (h *CreditHandler) GetCredits(c echo.Context) error {
	summary, err := h.svc.Summary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.ToCreditSummaryResponse(summary))
}

func (h *CreditHandler) GetLedger(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return badRequest("limit must be a positive integer")
		}
		limit = n
	}
	entries, err := h.svc.History(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return toHTTPError(err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *CreditHandler) GrantPackage(c echo.Context) error {
	var req dto.GrantPackageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pkg, err := h.svc.GrantPackage(c.Request().Context(), service.GrantInput{
		ClientID:  c.Param("id"),
		Credits:   req.Credits,
		ExpiresAt: req.ExpiresAt,
		SourceRef: req.SourceRef,
		Note:      req.Note,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, dto.ToPackageResponse(pkg, pkg.StatusAt(time.Now())))
}

func (h *CreditHandler) AdjustPackage(c echo.Context) error {
	var req dto.AdjustPackageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	entry, err := h.svc.AdjustPackage(c.Request().Context(), c.Param("id"), req.Delta, req.Note)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}
