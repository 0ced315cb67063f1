package postgres

import (
	"fmt"
	"math/big"
)

// Amount columns use NUMERIC(78,0), wide enough for any uint256-scale
// value. Values travel as decimal strings to avoid float truncation.

// numericStr renders a big.Int for a NUMERIC parameter. Nil maps to "0".
func numericStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric converts a scanned NUMERIC text value back into a big.Int.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}
