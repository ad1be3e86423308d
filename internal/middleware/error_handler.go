package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Eursukkul/studio-booking/internal/dto"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorHandler renders every error as {"code","message"}. Handlers return
// *echo.HTTPError carrying either a dto.ErrorResponse or a plain string;
// anything else becomes a 500.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		body := dto.ErrorResponse{Code: "internal_error", Message: "internal server error"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch m := he.Message.(type) {
			case dto.ErrorResponse:
				body = m
			case string:
				body = dto.ErrorResponse{Code: statusCode(code), Message: m}
			default:
				body = dto.ErrorResponse{Code: statusCode(code), Message: http.StatusText(code)}
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("[HTTP] request failed",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", code),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

// statusCode turns "Not Found" into "not_found".
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
