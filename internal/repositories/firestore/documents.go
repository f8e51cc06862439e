package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Money is stored as a decimal string so no precision is lost to float64.
func moneyString(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func parseMoney(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", field, err)
	}
	return value, nil
}

func optionalTime(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}
