package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorCode string

const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// Коды движка escrow.
	ErrCodePrecondition           ErrorCode = "PRECONDITION_FAILED"
	ErrCodeLedgerUnavailable      ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeLedgerAmbiguous        ErrorCode = "LEDGER_AMBIGUOUS"
	ErrCodeInvariant              ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error

	// Expected и Actual заполняются для PRECONDITION_FAILED.
	Expected []string
	Actual   string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable сообщает, имеет ли смысл повторить операцию с тем же ключом идемпотентности.
func (e *AppError) Retryable() bool {
	return e.Code == ErrCodeLedgerUnavailable || e.Code == ErrCodeConcurrentModification
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Precondition формирует ошибку недопустимого перехода с ожидаемым и фактическим статусом.
func Precondition(entity string, actual string, expected ...string) *AppError {
	e := New(ErrCodePrecondition, fmt.Sprintf("%s: ожидался статус %s, текущий статус %s",
		entity, strings.Join(expected, "|"), actual))
	e.Expected = expected
	e.Actual = actual
	return e
}

// PreconditionMsg формирует ошибку предусловия с понятным пользователю текстом.
func PreconditionMsg(message string) *AppError {
	return New(ErrCodePrecondition, message)
}

func Invariant(message string) *AppError {
	return New(ErrCodeInvariant, message)
}

func LedgerUnavailable(err error) *AppError {
	return Wrap(err, ErrCodeLedgerUnavailable, "платёжный провайдер недоступен, повторите попытку позже")
}

func LedgerAmbiguous(err error) *AppError {
	return Wrap(err, ErrCodeLedgerAmbiguous, "результат платёжной операции неизвестен, заказ требует сверки")
}

func ConcurrentModification(err error) *AppError {
	return Wrap(err, ErrCodeConcurrentModification, "заказ изменяется другим запросом, повторите попытку")
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodePrecondition, ErrCodeLedgerAmbiguous, ErrCodeConcurrentModification:
		return http.StatusConflict
	case ErrCodeInvariant:
		return http.StatusUnprocessableEntity
	case ErrCodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку, если это не AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return Is(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return Is(err, ErrCodeValidation)
}

func IsPrecondition(err error) bool {
	return Is(err, ErrCodePrecondition)
}

var (
	ErrOrderNotFound      = New(ErrCodeNotFound, "заказ не найден")
	ErrDisputeNotFound    = New(ErrCodeNotFound, "спор не найден")
	ErrResolutionNotFound = New(ErrCodeNotFound, "решение по спору не найдено")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden          = New(ErrCodeForbidden, "недостаточно прав")
)
