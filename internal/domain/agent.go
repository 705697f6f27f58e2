package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RiskProfile selects a row of the factory's risk table. RiskCustom labels
// wallets created with caller-supplied limits; it has no row.
type RiskProfile uint8

const (
	RiskConservative RiskProfile = iota
	RiskModerate
	RiskAggressive
	RiskCustom
)

func (p RiskProfile) String() string {
	switch p {
	case RiskConservative:
		return "CONSERVATIVE"
	case RiskModerate:
		return "MODERATE"
	case RiskAggressive:
		return "AGGRESSIVE"
	case RiskCustom:
		return "CUSTOM"
	default:
		return fmt.Sprintf("RiskProfile(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the known profiles.
func (p RiskProfile) Valid() bool { return p <= RiskCustom }

// MarshalText implements encoding.TextMarshaler.
func (p RiskProfile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts the profile name or its ordinal.
func (p *RiskProfile) UnmarshalJSON(b []byte) error {
	var n uint8
	if err := json.Unmarshal(b, &n); err == nil {
		*p = RiskProfile(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("domain: risk profile: %w", err)
	}
	v, err := ParseRiskProfile(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseRiskProfile parses a profile name, case-insensitively.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CONSERVATIVE":
		return RiskConservative, nil
	case "MODERATE":
		return RiskModerate, nil
	case "AGGRESSIVE":
		return RiskAggressive, nil
	case "CUSTOM":
		return RiskCustom, nil
	}
	return 0, fmt.Errorf("domain: unknown risk profile %q", s)
}

// AgentConfig is fixed when a wallet is deployed.
type AgentConfig struct {
	Owner              common.Address `json:"owner"`
	Executor           common.Address `json:"executor"`
	MaxTradeSize       *big.Int       `json:"maxTradeSize"`
	DailyLossLimit     *big.Int       `json:"dailyLossLimit"`
	MaxOpenPositions   int            `json:"maxOpenPositions"`
	WhitelistedMarkets []common.Hash  `json:"whitelistedMarkets"`
	RiskProfile        RiskProfile    `json:"riskProfile"`
}

// Whitelisted reports whether the wallet may trade marketID.
func (c AgentConfig) Whitelisted(marketID common.Hash) bool {
	for _, id := range c.WhitelistedMarkets {
		if id == marketID {
			return true
		}
	}
	return false
}

// PerformanceMetrics is the wallet's cached accounting. CurrentBalance is the
// available capital; LockedCapital is what sits in open positions.
type PerformanceMetrics struct {
	TotalTrades           uint64     `json:"totalTrades"`
	OpenPositionsCount    int        `json:"openPositionsCount"`
	CurrentBalance        *big.Int   `json:"currentBalance"`
	LockedCapital         *big.Int   `json:"lockedCapital"`
	CumulativeRealizedPnl *big.Int   `json:"cumulativeRealizedPnl"`
	DailyLossAccumulator  *big.Int   `json:"dailyLossAccumulator"`
	DailyLossWindowStart  time.Time  `json:"dailyLossWindowStart"`
	TotalDeposited        *big.Int   `json:"totalDeposited"`
	TotalWithdrawn        *big.Int   `json:"totalWithdrawn"`
	Wins                  uint64     `json:"wins"`
	Losses                uint64     `json:"losses"`
	LastTradeAt           *time.Time `json:"lastTradeAt,omitempty"`
}
