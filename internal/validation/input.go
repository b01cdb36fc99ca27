package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// Ограничения на текстовые поля запросов.
const (
	MinOrderTitleLength = 3
	MaxOrderTitleLength = 200
	MaxReasonLength     = 2000
	MaxMessageLength    = 5000
	MaxEvidenceTitle    = 200
	MaxNotesLength      = 2000
	MaxCurrencyLength   = 3
	MaxDeliveryDays     = 365
	MaxRevisions        = 50
)

// ValidateLength проверяет длину строки в символах.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return invalid("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return invalid("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateText — непустая строка не длиннее max.
func ValidateText(fieldName, value string, max int) error {
	if err := ValidateNonEmpty(fieldName, value); err != nil {
		return err
	}
	return ValidateLength(fieldName, value, 0, max)
}

// ValidateOrderTitle проверяет название заказа.
func ValidateOrderTitle(title string) error {
	return ValidateLength("название заказа", strings.TrimSpace(title), MinOrderTitleLength, MaxOrderTitleLength)
}

// ValidateCurrency проверяет трёхбуквенный код валюты. Пустой код допустим.
func ValidateCurrency(code string) error {
	if code == "" {
		return nil
	}
	if len(code) != MaxCurrencyLength || strings.ToUpper(code) != code {
		return invalid("валюта должна быть трёхбуквенным кодом ISO 4217, например RUB")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return invalid("валюта должна быть трёхбуквенным кодом ISO 4217, например RUB")
		}
	}
	return nil
}

// ValidateRange проверяет, что целое значение лежит в [min, max].
func ValidateRange(fieldName string, value, min, max int) error {
	if value < min || value > max {
		return invalid("%s должно быть от %d до %d", fieldName, min, max)
	}
	return nil
}

// First возвращает первую ошибку из списка проверок.
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf(format, args...))
}
