package intent

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var amountSuffixes = []struct {
	suffix string
	factor decimal.Decimal
}{
	{"jt", decimal.NewFromInt(1_000_000)},
	{"juta", decimal.NewFromInt(1_000_000)},
	{"rb", decimal.NewFromInt(1_000)},
	{"ribu", decimal.NewFromInt(1_000)},
	{"k", decimal.NewFromInt(1_000)},
}

var amountPrefixes = []string{"rp.", "rp", "idr", "usd", "$"}

// ParseAmount parses a user or model supplied amount such as "50000",
// "Rp 50,000", "$12.50", "20k" or "1.5jt". Commas are thousands separators.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range amountPrefixes {
		s = strings.TrimSpace(strings.TrimPrefix(s, p))
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "idr"), "usd"))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	factor := decimal.NewFromInt(1)
	for _, sfx := range amountSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			s = strings.TrimSuffix(s, sfx.suffix)
			factor = sfx.factor
			break
		}
	}

	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount %q", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot parse amount %q", raw)
	}
	return d.Mul(factor), nil
}
