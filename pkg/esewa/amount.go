package esewa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a gateway amount that may arrive as a JSON number or string ("1,800.0")
type Amount string

// UnmarshalJSON accepts numbers, strings and null
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// Rupees returns the amount truncated to whole units
func (a Amount) Rupees() (int64, error) {
	return ParseRupees(string(a))
}

// ParseRupees parses a gateway amount string ("1800", "1800.0", "1,800.00")
// and truncates it to whole units.
func ParseRupees(s string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if math.Abs(f) >= math.MaxInt64 {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return int64(math.Trunc(f)), nil
}
