package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// AmountScale — количество знаков после запятой для денежных сумм.
const AmountScale = 2

// Round приводит сумму к масштабу хранения.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// Pricing описывает финансовые условия заказа.
// PlatformFee и ProcessingFee оплачивает клиент сверх Amount,
// ProviderFee удерживается из Amount при выплате фрилансеру.
type Pricing struct {
	Amount        decimal.Decimal
	PlatformFee   decimal.Decimal
	ProcessingFee decimal.Decimal
	ProviderFee   decimal.Decimal
}

func (p Pricing) Total() decimal.Decimal {
	return p.Amount.Add(p.PlatformFee).Add(p.ProcessingFee)
}

func (p Pricing) Payout() decimal.Decimal {
	return p.Amount.Sub(p.ProviderFee)
}

func (p Pricing) Validate() error {
	if !p.Amount.IsPositive() {
		return apperror.Invariant("сумма заказа должна быть положительной")
	}
	fees := []struct {
		name  string
		value decimal.Decimal
	}{
		{"комиссия платформы", p.PlatformFee},
		{"комиссия за обработку", p.ProcessingFee},
		{"комиссия исполнителя", p.ProviderFee},
	}
	for _, fee := range fees {
		if fee.value.IsNegative() {
			return apperror.Invariant(fmt.Sprintf("%s не может быть отрицательной", fee.name))
		}
		if !Round(fee.value).Equal(fee.value) {
			return apperror.Invariant(fmt.Sprintf("%s указана с точностью больше %d знаков", fee.name, AmountScale))
		}
	}
	if !Round(p.Amount).Equal(p.Amount) {
		return apperror.Invariant("сумма заказа указана с недопустимой точностью")
	}
	if p.ProviderFee.GreaterThan(p.Amount) {
		return apperror.Invariant("комиссия исполнителя превышает сумму заказа")
	}
	return nil
}

// CheckTotals сверяет зафиксированные итоги с условиями.
func (p Pricing) CheckTotals(total, payout decimal.Decimal) error {
	if !total.Equal(p.Total()) {
		return apperror.Invariant(fmt.Sprintf("итоговая сумма %s не равна сумме заказа и комиссий %s", total, p.Total()))
	}
	if !payout.Equal(p.Payout()) {
		return apperror.Invariant(fmt.Sprintf("выплата исполнителю %s не равна сумме заказа за вычетом комиссии %s", payout, p.Payout()))
	}
	return nil
}

// Split — распределение удерживаемых средств по решению спора.
type Split struct {
	Refund    decimal.Decimal `json:"refund_amount"`
	Payment   decimal.Decimal `json:"freelancer_payment"`
	FeeWaived decimal.Decimal `json:"platform_fee_waived"`
}

func (s Split) Sum() decimal.Decimal {
	return s.Refund.Add(s.Payment).Add(s.FeeWaived)
}

// ClientReturn — сумма, которая возвращается клиенту: возврат плюс списанная комиссия.
func (s Split) ClientReturn() decimal.Decimal {
	return s.Refund.Add(s.FeeWaived)
}

// Validate проверяет, что распределение полностью покрывает total.
func (s Split) Validate(total decimal.Decimal) error {
	if s.Refund.IsNegative() || s.Payment.IsNegative() || s.FeeWaived.IsNegative() {
		return apperror.Invariant("суммы решения не могут быть отрицательными")
	}
	if !s.Sum().Equal(total) {
		return apperror.Invariant(fmt.Sprintf("сумма возврата, выплаты и списанной комиссии (%s) должна равняться сумме заказа (%s)", s.Sum(), total))
	}
	return nil
}

func (s Split) Outcome() ResolutionOutcome {
	switch {
	case s.Payment.IsZero():
		return OutcomeFullRefund
	case s.ClientReturn().IsZero():
		return OutcomeFullPayment
	default:
		return OutcomePartial
	}
}
