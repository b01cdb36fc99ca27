package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

func TestValidateLength(t *testing.T) {
	assert.NoError(t, ValidateLength("поле", "абв", 3, 3))
	assert.True(t, apperror.IsValidation(ValidateLength("поле", "аб", 3, 0)))
	assert.True(t, apperror.IsValidation(ValidateLength("поле", "абвг", 0, 3)))
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("причина", "не отвечает", 100))
	assert.Error(t, ValidateText("причина", "   ", 100))
	assert.Error(t, ValidateText("причина", strings.Repeat("я", 101), 100))
}

func TestValidateOrderTitle(t *testing.T) {
	assert.NoError(t, ValidateOrderTitle("Лендинг"))
	assert.Error(t, ValidateOrderTitle("  a "))
}

func TestValidateCurrency(t *testing.T) {
	for _, ok := range []string{"", "RUB", "USD"} {
		assert.NoError(t, ValidateCurrency(ok), ok)
	}
	for _, bad := range []string{"rub", "RU", "RUBL", "R1B"} {
		assert.Error(t, ValidateCurrency(bad), bad)
	}
}

func TestFirst(t *testing.T) {
	err := First(nil, ValidateRange("правки", 60, 0, MaxRevisions), ValidateCurrency("x"))
	assert.Contains(t, err.Error(), "правки")
	assert.NoError(t, First(nil, nil))
}
