package trade

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"streakwatch/internal/loyalty"
)

// DefaultTokens lists the tokens offered for simulated trades and their decimals.
var DefaultTokens = map[string]int32{
	"ETH":  18,
	"USDC": 6,
	"DAI":  18,
}

// ParseAmount converts a display amount into base units. It rejects values that
// are not positive or that carry more fractional digits than the token supports.
func ParseAmount(amount string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, &loyalty.ValidationError{Field: "amount", Reason: "empty"}
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, &loyalty.ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a number", trimmed)}
	}
	if !value.IsPositive() {
		return nil, &loyalty.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, &loyalty.ValidationError{Field: "amount", Reason: fmt.Sprintf("more than %d decimal places", decimals)}
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units back into a display amount.
func FormatAmount(units *big.Int, decimals int32) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}
