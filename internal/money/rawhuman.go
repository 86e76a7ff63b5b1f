package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RawToHuman converts an integer base-unit amount (e.g. "10000" micro-USDC)
// into a trimmed human-readable decimal string (e.g. "0.01"), using only
// arbitrary-precision integer arithmetic. Floating point is never involved,
// so the conversion is exact regardless of how large raw or decimals are.
func RawToHuman(raw string, decimals uint8) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("money: empty raw amount")
	}

	negative := false
	if strings.HasPrefix(raw, "-") {
		negative = true
		raw = raw[1:]
	}

	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", fmt.Errorf("money: invalid integer amount %q", raw)
	}

	if decimals == 0 {
		s := value.String()
		if negative && s != "0" {
			s = "-" + s
		}
		return s, nil
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quotient, remainder := new(big.Int).QuoRem(value, divisor, new(big.Int))

	fractional := remainder.String()
	if len(fractional) < int(decimals) {
		fractional = strings.Repeat("0", int(decimals)-len(fractional)) + fractional
	}
	fractional = strings.TrimRight(fractional, "0")

	var buf strings.Builder
	if negative && !(quotient.Sign() == 0 && fractional == "") {
		buf.WriteByte('-')
	}
	buf.WriteString(quotient.String())
	if fractional != "" {
		buf.WriteByte('.')
		buf.WriteString(fractional)
	}

	return buf.String(), nil
}

// HumanToRaw converts a human-readable decimal string into an integer
// base-unit string, the inverse of RawToHuman. Input with more fractional
// digits than decimals is rejected.
func HumanToRaw(human string, decimals uint8) (string, error) {
	human = strings.TrimSpace(human)
	if human == "" {
		return "", errors.New("money: empty human amount")
	}

	negative := false
	if strings.HasPrefix(human, "-") {
		negative = true
		human = human[1:]
	}

	parts := strings.SplitN(human, ".", 2)
	integerPart := parts[0]
	if integerPart == "" {
		integerPart = "0"
	}
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	if len(fractionalPart) > int(decimals) {
		return "", fmt.Errorf("money: %q has more precision than %d decimals", human, decimals)
	}
	fractionalPart += strings.Repeat("0", int(decimals)-len(fractionalPart))

	combined := integerPart + fractionalPart
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return "", fmt.Errorf("money: invalid decimal amount %q", human)
	}
	if negative {
		value.Neg(value)
	}
	return value.String(), nil
}
