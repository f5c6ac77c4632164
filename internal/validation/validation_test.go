package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payout struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gte=1,lte=150000,whole"`
	MSISDN string          `json:"msisdn" validate:"required,msisdn"`
	Email  string          `json:"email" validate:"omitempty,email"`
}

func TestDecimalBounds(t *testing.T) {
	cases := map[string]bool{
		"1":         true,
		"150000":    true,
		"150000.01": false,
		"-5":        false,
		"0.4":       false,
		"100.50":    false,
		"100.00":    true,
	}
	for amount, ok := range cases {
		err := Struct(payout{Amount: decimal.RequireFromString(amount), MSISDN: "254712345678"})
		assert.Equal(t, ok, err == nil, amount)
	}
}

func TestZeroAmountIsMissing(t *testing.T) {
	err := Struct(payout{MSISDN: "254712345678"})
	fields := FieldErrors(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "required", fields[0].Tag())
	assert.Equal(t, "amount", fields[0].Field())
}

func TestMSISDN(t *testing.T) {
	assert.True(t, ValidMSISDN("254712345678"))
	assert.False(t, ValidMSISDN("0712345678"))
	assert.False(t, ValidMSISDN("2547123456789"))
	assert.False(t, ValidMSISDN("25471234567a"))

	err := Struct(payout{Amount: decimal.NewFromInt(10), MSISDN: "0712345678"})
	assert.Equal(t, "msisdn must use format 254XXXXXXXXX", Message(err))
}

func TestMessageJoinsFields(t *testing.T) {
	err := Struct(payout{Email: "nope"})
	msg := Message(err)
	assert.Contains(t, msg, "amount is required")
	assert.Contains(t, msg, "msisdn is required")
	assert.Contains(t, msg, "email must be a valid email")
}

func TestWholeMessage(t *testing.T) {
	err := Struct(payout{Amount: decimal.RequireFromString("99.5"), MSISDN: "254712345678"})
	assert.Equal(t, "amount must be a whole number", Message(err))
}
