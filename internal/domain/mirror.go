package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// The Mirror* types are the off-chain read model served to dashboards. They
// are never authoritative.

type MirrorMarket struct {
	ID        common.Hash `json:"id"`
	Name      string      `json:"name"`
	Region    string      `json:"region"`
	IsActive  bool        `json:"isActive"`
	Price     *big.Int    `json:"price,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type MirrorAgent struct {
	Address          common.Address `json:"address"`
	Owner            common.Address `json:"owner"`
	Executor         common.Address `json:"executor"`
	RiskProfile      RiskProfile    `json:"riskProfile"`
	MaxTradeSize     *big.Int       `json:"maxTradeSize"`
	DailyLossLimit   *big.Int       `json:"dailyLossLimit"`
	MaxOpenPositions int            `json:"maxOpenPositions"`
	Markets          []common.Hash  `json:"markets"`
	Balance          *big.Int       `json:"balance"`
	TotalDeposited   *big.Int       `json:"totalDeposited"`
	TotalWithdrawn   *big.Int       `json:"totalWithdrawn"`
	Pnl              *big.Int       `json:"pnl"`
	TotalTrades      uint64         `json:"totalTrades"`
	OpenPositions    int            `json:"openPositions"`
	Wins             uint64         `json:"wins"`
	Losses           uint64         `json:"losses"`
	Paused           bool           `json:"paused"`
	CreatedSeq       uint64         `json:"createdSeq"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// WinRate is the share of closed positions that realized a profit, in
// percent.
func (a MirrorAgent) WinRate() float64 {
	closed := a.Wins + a.Losses
	if closed == 0 {
		return 0
	}
	return float64(a.Wins) / float64(closed) * 100
}

type MirrorPosition struct {
	Agent       common.Address `json:"agent"`
	ID          uint64         `json:"id"`
	MarketID    common.Hash    `json:"marketId"`
	Direction   Direction      `json:"direction"`
	EntryAmount *big.Int       `json:"entryAmount"`
	EntryPrice  *big.Int       `json:"entryPrice"`
	IsOpen      bool           `json:"isOpen"`
	OpenedAt    time.Time      `json:"openedAt"`
	ClosedAt    *time.Time     `json:"closedAt,omitempty"`
	Payout      *big.Int       `json:"payout,omitempty"`
	RealizedPnl *big.Int       `json:"realizedPnl,omitempty"`
}

// TradeKind distinguishes the opening and closing leg of a position.
type TradeKind string

const (
	TradeOpen  TradeKind = "open"
	TradeClose TradeKind = "close"
)

type MirrorTrade struct {
	Agent      common.Address `json:"agent"`
	Owner      common.Address `json:"owner"`
	PositionID uint64         `json:"positionId"`
	Kind       TradeKind      `json:"kind"`
	MarketID   common.Hash    `json:"marketId"`
	Direction  Direction      `json:"direction"`
	Amount     *big.Int       `json:"amount"`
	Price      *big.Int       `json:"price,omitempty"`
	Pnl        *big.Int       `json:"pnl,omitempty"`
	TxHash     common.Hash    `json:"txHash"`
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
}

// PortfolioStats aggregates an owner's agents for the dashboard.
type PortfolioStats struct {
	TotalCapital    string  `json:"totalCapital"`
	TotalPnl        string  `json:"totalPnl"`
	TotalPnlPercent float64 `json:"totalPnlPercent"`
	ActiveAgents    int     `json:"activeAgents"`
	TotalAgents     int     `json:"totalAgents"`
	TotalTrades     uint64  `json:"totalTrades"`
	AvgWinRate      float64 `json:"avgWinRate"`
}
