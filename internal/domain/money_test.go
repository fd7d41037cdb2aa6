package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"

	"github.com/nikolayk812/marketcore/internal/domain"
)

func usd(s string) domain.Money {
	return domain.NewMoney(decimal.RequireFromString(s), currency.USD)
}

func eur(s string) domain.Money {
	return domain.NewMoney(decimal.RequireFromString(s), currency.EUR)
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name      string
		run       func() (domain.Money, error)
		want      string
		wantError bool
	}{
		{
			name: "add same currency",
			run:  func() (domain.Money, error) { return usd("10.50").Add(usd("4.50")) },
			want: "15.00",
		},
		{
			name:      "add mixed currency fails",
			run:       func() (domain.Money, error) { return usd("10.50").Add(eur("4.50")) },
			wantError: true,
		},
		{
			name: "sub",
			run:  func() (domain.Money, error) { return usd("100.00").Sub(usd("42.50")) },
			want: "57.50",
		},
		{
			name:      "sub mixed currency fails",
			run:       func() (domain.Money, error) { return usd("100.00").Sub(eur("1.00")) },
			wantError: true,
		},
		{
			name: "mul int",
			run:  func() (domain.Money, error) { return usd("19.99").MulInt(3), nil },
			want: "59.97",
		},
		{
			name: "percent rounds to cents",
			run:  func() (domain.Money, error) { return usd("33.33").Percent(decimal.NewFromInt(15)), nil },
			want: "5.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Amount.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", got.Amount, tt.want)
		})
	}
}

func TestMoneyCmp(t *testing.T) {
	cmp, err := usd("10.00").Cmp(usd("10.00"))
	require.NoError(t, err)
	assert.Zero(t, cmp)

	cmp, err = usd("10.01").Cmp(usd("10.00"))
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	_, err = usd("10.00").Cmp(eur("10.00"))
	require.Error(t, err)
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	original := usd("123.45")

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded domain.Money
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, original.Amount.Equal(decoded.Amount))
	assert.Equal(t, original.Currency.String(), decoded.Currency.String())
}

func TestMoneyUnmarshalInvalidCurrency(t *testing.T) {
	var m domain.Money
	err := json.Unmarshal([]byte(`{"amount":"1.00","currency":"NOPE"}`), &m)
	require.Error(t, err)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "7.50 USD", usd("7.5").String())
}
