package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Expected []string `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
}

// ErrorHandler превращает ошибки из c.Errors в JSON ответ.
// AppError отдаётся клиенту как есть, остальные ошибки маскируются как внутренние.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := errorBody(err)

		fields := logrus.Fields{
			"error":  err.Error(),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"status": status,
		}
		if status >= http.StatusInternalServerError {
			logger.Log.WithFields(fields).Error("Ошибка обработки запроса")
		} else {
			logger.Log.WithFields(fields).Debug("Запрос отклонён")
		}

		c.JSON(status, body)
	}
}

func errorBody(err error) (int, ErrorResponse) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ErrorResponse{
			Error: "внутренняя ошибка сервера",
			Code:  string(apperror.ErrCodeInternal),
		}
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := appErr.Message
	if status >= http.StatusInternalServerError && appErr.Code != apperror.ErrCodeLedgerUnavailable {
		message = "внутренняя ошибка сервера"
	}
	return status, ErrorResponse{
		Error:    message,
		Code:     string(appErr.Code),
		Expected: appErr.Expected,
		Actual:   appErr.Actual,
	}
}

// abortWith прерывает цепочку с ошибкой, ответ формирует ErrorHandler.
func abortWith(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, body)
}
