package common

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// CurrentActor собирает пользователя и роль, положенные в контекст AuthMiddleware.
func CurrentActor(c *gin.Context) (service.Actor, error) {
	rawID, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return service.Actor{}, apperror.ErrUnauthorized
	}
	userID, ok := rawID.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return service.Actor{}, apperror.ErrUnauthorized
	}
	role, _ := c.Get(middleware.ContextRoleKey)
	roleStr, _ := role.(string)
	return service.Actor{UserID: userID, Role: roleStr}, nil
}

// ParseUUIDParam читает UUID из параметра пути.
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(c.Param(paramName))
	if err != nil {
		return uuid.Nil, apperror.New(apperror.ErrCodeBadRequest, "неверный формат UUID в параметре "+paramName)
	}
	return parsed, nil
}

type validatable interface {
	Validate() error
}

// BindJSON разбирает тело запроса и проверяет его, если запрос умеет Validate.
// Пустое тело допустимо, если allowEmpty.
func BindJSON(c *gin.Context, req any, allowEmpty bool) error {
	if allowEmpty && c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(req); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "ошибка валидации запроса: "+err.Error())
	}
	if v, ok := req.(validatable); ok {
		return v.Validate()
	}
	return nil
}

// Fail передаёт ошибку в ErrorHandler и прерывает обработку.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// RespondJSON отправляет JSON с указанным статусом.
func RespondJSON(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, data)
}

// RespondOK отправляет 200 с данными.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// ParseIntQuery читает целочисленный query параметр со значением по умолчанию.
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination извлекает limit и offset с ограничениями по умолчанию.
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
