// Package decimal implements the non-negative fixed-point amount used by
// resource containers: 18 fractional digits stored in a 256-bit integer.
package decimal

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Scale is the number of fractional digits.
const Scale = 18

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("decimal overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("decimal underflow")

	// ErrSyntax is returned by Parse for malformed input.
	ErrSyntax = errors.New("invalid decimal syntax")
)

// one is 10^18, the raw representation of 1.
var one = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Scale))

// Decimal is an immutable non-negative fixed-point number.
type Decimal struct {
	raw uint256.Int
}

// Zero returns 0.
func Zero() Decimal {
	return Decimal{}
}

// New returns the whole number n.
func New(n uint64) Decimal {
	var d Decimal
	d.raw.Mul(uint256.NewInt(n), one)
	return d
}

// FromRaw builds a decimal from its scaled integer representation.
func FromRaw(raw *uint256.Int) Decimal {
	var d Decimal
	d.raw.Set(raw)
	return d
}

// Parse reads "123", "0.5" or "1_000.25".
func Parse(s string) (Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return Decimal{}, fmt.Errorf("%w: empty", ErrSyntax)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > Scale {
		return Decimal{}, fmt.Errorf("%w: more than %d fractional digits", ErrSyntax, Scale)
	}
	if whole == "" {
		whole = "0"
	}

	digits := whole + frac + strings.Repeat("0", Scale-len(frac))
	for _, c := range digits {
		if c < '0' || c > '9' {
			return Decimal{}, fmt.Errorf("%w: %q", ErrSyntax, s)
		}
	}

	b, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}

	raw, overflow := uint256.FromBig(b)
	if overflow {
		return Decimal{}, ErrOverflow
	}

	return FromRaw(raw), nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Raw returns a copy of the scaled integer.
func (d Decimal) Raw() *uint256.Int {
	return new(uint256.Int).Set(&d.raw)
}

// Bytes32 returns the big-endian scaled integer.
func (d Decimal) Bytes32() [32]byte {
	return d.raw.Bytes32()
}

// FromBytes32 is the inverse of Bytes32.
func FromBytes32(b [32]byte) Decimal {
	var d Decimal
	d.raw.SetBytes(b[:])
	return d
}

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool {
	return d.raw.IsZero()
}

// Cmp returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int {
	return d.raw.Cmp(&o.raw)
}

// Lt reports d < o.
func (d Decimal) Lt(o Decimal) bool {
	return d.raw.Lt(&o.raw)
}

// Gt reports d > o.
func (d Decimal) Gt(o Decimal) bool {
	return d.raw.Gt(&o.raw)
}

// Eq reports d == o.
func (d Decimal) Eq(o Decimal) bool {
	return d.raw.Eq(&o.raw)
}

// Add returns d + o.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	var r Decimal
	if _, overflow := r.raw.AddOverflow(&d.raw, &o.raw); overflow {
		return Decimal{}, ErrOverflow
	}
	return r, nil
}

// Sub returns d - o.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var r Decimal
	if _, underflow := r.raw.SubOverflow(&d.raw, &o.raw); underflow {
		return Decimal{}, ErrUnderflow
	}
	return r, nil
}

// Min returns the smaller of d and o.
func Min(d, o Decimal) Decimal {
	if d.Lt(o) {
		return d
	}
	return o
}

// IsInteger reports whether d has no fractional part.
func (d Decimal) IsInteger() bool {
	return new(uint256.Int).Mod(&d.raw, one).IsZero()
}

// Uint64 returns the whole part of d if d is an integer that fits.
func (d Decimal) Uint64() (uint64, bool) {
	if !d.IsInteger() {
		return 0, false
	}

	whole := new(uint256.Int).Div(&d.raw, one)
	if !whole.IsUint64() {
		return 0, false
	}

	return whole.Uint64(), true
}

// CheckDivisibility reports whether d is representable with the given
// number of fractional digits (0..18).
func (d Decimal) CheckDivisibility(divisibility uint8) bool {
	if divisibility >= Scale {
		return true
	}

	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(Scale-divisibility)))

	return new(uint256.Int).Mod(&d.raw, unit).IsZero()
}

// String renders d without trailing fractional zeros.
func (d Decimal) String() string {
	s := d.raw.ToBig().String()
	if len(s) <= Scale {
		s = strings.Repeat("0", Scale-len(s)+1) + s
	}

	whole, frac := s[:len(s)-Scale], strings.TrimRight(s[len(s)-Scale:], "0")
	if frac == "" {
		return whole
	}

	return whole + "." + frac
}
