package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// parseAmount parses a decimal amount from a JSON string field. Amounts cross
// the API as strings to avoid float rounding on the way in.
func parseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}
