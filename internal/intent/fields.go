package intent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// stringField returns the first non-empty string stored under one of keys.
// Numbers are accepted and formatted, everything else is an error.
func stringField(m map[string]interface{}, keys ...string) (string, error) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s, nil
			}
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), nil
		case json.Number:
			return val.String(), nil
		default:
			return "", fmt.Errorf("field %q has type %T, want string", key, v)
		}
	}
	return "", nil
}

// decimalField returns the value stored under the first present key.
// found is false when none of the keys holds a value.
func decimalField(m map[string]interface{}, keys ...string) (d decimal.Decimal, found bool, err error) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return decimal.NewFromFloat(val), true, nil
		case int:
			return decimal.NewFromInt(int64(val)), true, nil
		case int64:
			return decimal.NewFromInt(val), true, nil
		case json.Number:
			d, err := decimal.NewFromString(val.String())
			if err != nil {
				return decimal.Zero, true, fmt.Errorf("field %q: %w", key, err)
			}
			return d, true, nil
		case decimal.Decimal:
			return val, true, nil
		case string:
			if strings.TrimSpace(val) == "" {
				continue
			}
			d, err := ParseAmount(val)
			if err != nil {
				return decimal.Zero, true, fmt.Errorf("field %q: %w", key, err)
			}
			return d, true, nil
		default:
			return decimal.Zero, true, fmt.Errorf("field %q has type %T, want number", key, v)
		}
	}
	return decimal.Zero, false, nil
}

// floatField is decimalField for plain numeric scores.
func floatField(m map[string]interface{}, key string) (float64, bool, error) {
	d, found, err := decimalField(m, key)
	if err != nil || !found {
		return 0, found, err
	}
	f, _ := d.Float64()
	return f, true, nil
}

func boolField(m map[string]interface{}, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}
