package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FixedDecimals is the number of fractional digits carried by Fixed.
const FixedDecimals = 9

// FixedScale is the integer representation of 1.0.
const FixedScale int64 = 1_000_000_000

// Fixed is a signed fixed-point decimal with nine fractional digits. It is
// used for coordinates so values survive persistence without float rounding.
// JSON encodes it as a decimal string.
type Fixed int64

// ParseFixed parses a plain decimal such as "-12.5" or "48.858370".
func ParseFixed(raw string) (Fixed, error) {
	s := strings.TrimSpace(raw)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && frac == "" || hasDot && frac == "" {
		return 0, fmt.Errorf("fixed %q: malformed decimal", raw)
	}
	if len(frac) > FixedDecimals {
		return 0, fmt.Errorf("fixed %q: more than %d fractional digits", raw, FixedDecimals)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("fixed %q: malformed decimal", raw)
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || w > math.MaxInt64/uint64(FixedScale) {
		return 0, fmt.Errorf("fixed %q: out of range", raw)
	}
	var f uint64
	if frac != "" {
		f, _ = strconv.ParseUint(frac+strings.Repeat("0", FixedDecimals-len(frac)), 10, 64)
	}
	v := w*uint64(FixedScale) + f
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("fixed %q: out of range", raw)
	}
	if neg {
		return Fixed(-int64(v)), nil
	}
	return Fixed(v), nil
}

// MustParseFixed is ParseFixed for literals known to be valid.
func MustParseFixed(raw string) Fixed {
	f, err := ParseFixed(raw)
	if err != nil {
		panic(err)
	}
	return f
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String renders the shortest decimal form, without trailing zeros.
func (f Fixed) String() string {
	v := int64(f)
	var u uint64
	sign := ""
	if v < 0 {
		sign = "-"
		u = uint64(-(v + 1)) + 1
	} else {
		u = uint64(v)
	}
	whole, frac := u/uint64(FixedScale), u%uint64(FixedScale)
	out := sign + strconv.FormatUint(whole, 10)
	if frac != 0 {
		out += "." + strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	}
	return out
}

// MarshalJSON encodes the value as a quoted decimal string.
func (f Fixed) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(f.String())), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (f *Fixed) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("fixed: %w", err)
		}
		raw = unquoted
	}
	parsed, err := ParseFixed(raw)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
