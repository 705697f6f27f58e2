package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MarketIDFromKey derives a market identifier from its human-readable key,
// e.g. MarketIDFromKey("NIGERIA_ELECTION_2027").
func MarketIDFromKey(key string) common.Hash {
	return crypto.Keccak256Hash([]byte(key))
}

// MarketRecord is a whitelisted market as held by the permission manager.
// Records are never deleted; IsActive flips instead.
type MarketRecord struct {
	ID       common.Hash `json:"marketId"`
	Name     string      `json:"name"`
	Region   string      `json:"region"`
	IsActive bool        `json:"isActive"`
}

// Exists reports whether r is a registered record rather than the zero value
// returned for unknown ids.
func (r MarketRecord) Exists() bool {
	return r.ID != (common.Hash{})
}

// MarketConstraints bound what any agent wallet may be configured with.
type MarketConstraints struct {
	MinTradeSize      *big.Int `json:"minTradeSize"`
	MaxTradeSize      *big.Int `json:"maxTradeSize"`
	MinDailyLossLimit *big.Int `json:"minDailyLossLimit"`
	MaxDailyLossLimit *big.Int `json:"maxDailyLossLimit"`
}

// Valid reports whether both min/max pairs are ordered.
func (c MarketConstraints) Valid() bool {
	return Clone(c.MinTradeSize).Cmp(Clone(c.MaxTradeSize)) <= 0 &&
		Clone(c.MinDailyLossLimit).Cmp(Clone(c.MaxDailyLossLimit)) <= 0
}

// Allows reports whether a wallet configuration falls inside the bounds.
func (c MarketConstraints) Allows(maxTradeSize, dailyLossLimit *big.Int) bool {
	return between(maxTradeSize, c.MinTradeSize, c.MaxTradeSize) &&
		between(dailyLossLimit, c.MinDailyLossLimit, c.MaxDailyLossLimit)
}

func between(x, lo, hi *big.Int) bool {
	v := Clone(x)
	return v.Cmp(Clone(lo)) >= 0 && v.Cmp(Clone(hi)) <= 0
}

// DefaultConstraints are the bounds a fresh deployment starts with.
func DefaultConstraints() MarketConstraints {
	return MarketConstraints{
		MinTradeSize:      Ether("0.001"),
		MaxTradeSize:      Ether("1"),
		MinDailyLossLimit: Ether("0.01"),
		MaxDailyLossLimit: Ether("5"),
	}
}

// MarketType tags the venue implementation behind the market adapter.
type MarketType uint8

const (
	MarketTypeMockAMM MarketType = iota
)

func (t MarketType) String() string {
	switch t {
	case MarketTypeMockAMM:
		return "mock_amm"
	default:
		return "unknown"
	}
}
