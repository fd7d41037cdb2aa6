package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is a fixed-precision amount tagged with an ISO currency.
// All settlement arithmetic goes through Money, never through floats.
type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

// minorUnitPlaces is the rounding precision for stored amounts.
// The core only deals with 2-decimal currencies.
const minorUnitPlaces = 2

func NewMoney(amount decimal.Decimal, unit currency.Unit) Money {
	return Money{Amount: amount, Currency: unit}
}

func ZeroMoney(unit currency.Unit) Money {
	return Money{Amount: decimal.Zero, Currency: unit}
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, fmt.Errorf("add: %w", err)
	}

	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, fmt.Errorf("sub: %w", err)
	}

	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(n)), Currency: m.Currency}
}

// Percent applies a percentage rate and rounds to the currency minor unit,
// e.g. 150.00 at rate 10 yields 15.00.
func (m Money) Percent(rate decimal.Decimal) Money {
	amount := m.Amount.Mul(rate).Div(decimal.NewFromInt(100)).Round(minorUnitPlaces)
	return Money{Amount: amount, Currency: m.Currency}
}

func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(minorUnitPlaces), Currency: m.Currency}
}

func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, fmt.Errorf("cmp: %w", err)
	}

	return m.Amount.Cmp(other.Amount), nil
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(minorUnitPlaces), m.Currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency.String() != other.Currency.String() {
		return fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}

// moneyJSON is the storage representation, amount as decimal string.
type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:   m.Amount,
		Currency: m.Currency.String(),
	})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	parsedCurrency, err := currency.ParseISO(raw.Currency)
	if err != nil {
		return fmt.Errorf("currency[%s] is not valid: %w", raw.Currency, err)
	}

	m.Amount = raw.Amount
	m.Currency = parsedCurrency
	return nil
}
