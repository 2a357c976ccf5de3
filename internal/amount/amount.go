package amount

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	cerr "github.com/metavault/custodian/internal/errors"
)

// Decimals is the implied precision of every raw on-chain value this service
// touches (vault asset, shares and WETH debt all use 18 decimals).
const Decimals = 18

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ChainAmount pairs a raw base-unit integer with its derived human-readable
// decimal form. Conversion between the two is purely textual: the raw value is
// never routed through a float.
type ChainAmount struct {
	raw *big.Int
}

func Zero() ChainAmount {
	return ChainAmount{raw: new(big.Int)}
}

// FromBigInt copies v into a ChainAmount.
func FromBigInt(v *big.Int) ChainAmount {
	if v == nil {
		return Zero()
	}
	return ChainAmount{raw: new(big.Int).Set(v)}
}

// ParseRaw parses a base-10 base-unit integer string.
func ParseRaw(s string) (ChainAmount, error) {
	clean := strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return ChainAmount{}, cerr.New(cerr.CodeValidation, fmt.Sprintf("invalid base-unit amount %q", s))
	}
	return ChainAmount{raw: n}, nil
}

// ParseDecimal converts a human decimal string like "12.5" into a ChainAmount,
// rejecting inputs with more than 18 fractional digits.
func ParseDecimal(s string) (ChainAmount, error) {
	clean := strings.TrimSpace(s)
	neg := strings.HasPrefix(clean, "-")
	if neg {
		clean = clean[1:]
	}
	if !decimalPattern.MatchString(clean) {
		return ChainAmount{}, cerr.New(cerr.CodeValidation, fmt.Sprintf("amount must be in decimal form like 1.23, got %q", s))
	}
	parts := strings.SplitN(clean, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > Decimals {
		return ChainAmount{}, cerr.New(cerr.CodeValidation, fmt.Sprintf("decimal precision exceeds %d places", Decimals))
	}
	fracPart += strings.Repeat("0", Decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		combined = "0"
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return ChainAmount{}, cerr.New(cerr.CodeValidation, "invalid decimal amount")
	}
	if neg {
		n.Neg(n)
	}
	return ChainAmount{raw: n}, nil
}

// Raw returns the base-unit integer string.
func (a ChainAmount) Raw() string {
	if a.raw == nil {
		return "0"
	}
	return a.raw.String()
}

// BigInt returns a copy of the underlying integer.
func (a ChainAmount) BigInt() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Human returns the full-precision 18-decimal string, left-padded so there is
// always at least one integer digit. Sign is preserved.
func (a ChainAmount) Human() string {
	s := a.Raw()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= Decimals {
		s = strings.Repeat("0", Decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-Decimals]
	fracPart := s[len(s)-Decimals:]
	out := intPart + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// Display returns the human form with trailing fractional zeros trimmed, for
// reports and chat replies.
func (a ChainAmount) Display() string {
	h := a.Human()
	parts := strings.SplitN(h, ".", 2)
	frac := strings.TrimRight(parts[1], "0")
	if frac == "" {
		return parts[0]
	}
	return parts[0] + "." + frac
}

// Float64 returns a lossy float for ratio math (LTV, APY, drift). Anything
// destined for a call argument must use BigInt instead.
func (a ChainAmount) Float64() float64 {
	f, err := strconv.ParseFloat(a.Human(), 64)
	if err != nil {
		return 0
	}
	return f
}

func (a ChainAmount) Sign() int {
	if a.raw == nil {
		return 0
	}
	return a.raw.Sign()
}

// Cmp compares a against b.
func (a ChainAmount) Cmp(b ChainAmount) int {
	return a.BigInt().Cmp(b.BigInt())
}

func (a ChainAmount) String() string { return a.Human() }
