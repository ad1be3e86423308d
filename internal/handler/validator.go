package handler

import (
	"net/http"
	"strings"

	"github.com/Eursukkul/studio-booking/internal/dto"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// RequestValidator plugs go-playground/validator into echo.Context.Validate.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
		}
		msg := "invalid request"
		if len(fields) > 0 {
			msg = "invalid fields: " + strings.Join(fields, ", ")
		}
		return echo.NewHTTPError(http.StatusBadRequest, dto.ErrorResponse{Code: CodeValidation, Message: msg})
	}
	return nil
}

// bindAndValidate binds the body into req and runs the echo validator.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, dto.ErrorResponse{Code: CodeValidation, Message: "invalid request body"})
	}
	return c.Validate(req)
}
