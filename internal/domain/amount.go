package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts are native-currency values in wei. A *big.Int held by contract
// state is never mutated in place; arithmetic always allocates.

const etherDecimals = 18

// Ether parses a decimal ether string and panics on malformed input. It is
// meant for constants and tests.
func Ether(s string) *big.Int {
	wei, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return wei
}

// ParseEther converts a decimal ether amount such as "0.25" to wei. Amounts
// with more than 18 fractional digits or a negative sign are rejected.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse ether %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("domain: parse ether %q: negative amount", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("domain: parse ether %q: more than %d decimals", s, etherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders a wei amount as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// Zero returns a fresh zero amount.
func Zero() *big.Int { return new(big.Int) }

// Clone returns a copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Add returns a+b without touching either operand.
func Add(a, b *big.Int) *big.Int { return new(big.Int).Add(Clone(a), Clone(b)) }

// Sub returns a-b without touching either operand.
func Sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(Clone(a), Clone(b)) }

// IsPositive reports whether x > 0.
func IsPositive(x *big.Int) bool { return x != nil && x.Sign() > 0 }
