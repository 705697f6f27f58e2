package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a typed payload emitted by a contract during a transaction.
type Event interface {
	EventName() string
}

// EventRecord is an event as committed to the log. Seq is the sequence number
// of the transaction that emitted it and Index its position inside that
// transaction.
type EventRecord struct {
	Seq       uint64          `json:"seq"`
	Index     int             `json:"index"`
	TxHash    common.Hash     `json:"txHash"`
	Contract  common.Address  `json:"contract"`
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Event names.
const (
	EventMarketRegistered         = "MarketRegistered"
	EventMarketStatusChanged      = "MarketStatusChanged"
	EventExecutorAuthorized       = "ExecutorAuthorized"
	EventGlobalConstraintsUpdated = "GlobalConstraintsUpdated"
	EventGlobalTradingPaused      = "GlobalTradingPaused"
	EventGlobalTradingResumed     = "GlobalTradingResumed"
	EventVenueAdded               = "VenueAdded"
	EventVenueStatusChanged       = "VenueStatusChanged"
	EventMarketRouted             = "MarketRouted"
	EventFeeUpdated               = "FeeUpdated"
	EventFeeCollectorUpdated      = "FeeCollectorUpdated"
	EventFeeCollected             = "FeeCollected"
	EventPriceUpdated             = "PriceUpdated"
	EventAgentCreated             = "AgentCreated"
	EventCapitalDeposited         = "CapitalDeposited"
	EventCapitalWithdrawn         = "CapitalWithdrawn"
	EventTradeExecuted            = "TradeExecuted"
	EventPositionClosed           = "PositionClosed"
	EventAgentPaused              = "AgentPaused"
	EventAgentUnpaused            = "AgentUnpaused"
	EventDailyLossLimitReached    = "DailyLossLimitReached"
	EventMinted                   = "Minted"
)

type MarketRegistered struct {
	MarketID common.Hash `json:"marketId"`
	Name     string      `json:"name"`
	Region   string      `json:"region"`
}

type MarketStatusChanged struct {
	MarketID common.Hash `json:"marketId"`
	IsActive bool        `json:"isActive"`
}

type ExecutorAuthorized struct {
	Executor   common.Address `json:"executor"`
	Authorized bool           `json:"authorized"`
}

type GlobalConstraintsUpdated struct {
	Constraints MarketConstraints `json:"constraints"`
}

type GlobalTradingPaused struct{}

type GlobalTradingResumed struct{}

type VenueAdded struct {
	Venue      common.Address `json:"venue"`
	MarketType MarketType     `json:"marketType"`
}

type VenueStatusChanged struct {
	Venue  common.Address `json:"venue"`
	Active bool           `json:"active"`
}

type MarketRouted struct {
	MarketID common.Hash    `json:"marketId"`
	Venue    common.Address `json:"venue"`
}

type FeeUpdated struct {
	FeeBps uint64 `json:"feeBps"`
}

type FeeCollectorUpdated struct {
	FeeCollector common.Address `json:"feeCollector"`
}

type FeeCollected struct {
	Payer  common.Address `json:"payer"`
	Amount *big.Int       `json:"amount"`
}

// PriceUpdated carries the venue's YES price (1e18 fixed point) after a fill.
type PriceUpdated struct {
	MarketID common.Hash `json:"marketId"`
	Price    *big.Int    `json:"price"`
}

type AgentCreated struct {
	Owner  common.Address `json:"owner"`
	Agent  common.Address `json:"agent"`
	Config AgentConfig    `json:"config"`
}

type CapitalDeposited struct {
	Agent          common.Address `json:"agent"`
	Amount         *big.Int       `json:"amount"`
	Balance        *big.Int       `json:"balance"`
	TotalDeposited *big.Int       `json:"totalDeposited"`
}

type CapitalWithdrawn struct {
	Agent          common.Address `json:"agent"`
	Amount         *big.Int       `json:"amount"`
	Balance        *big.Int       `json:"balance"`
	TotalWithdrawn *big.Int       `json:"totalWithdrawn"`
}

type TradeExecuted struct {
	Agent         common.Address `json:"agent"`
	PositionID    uint64         `json:"positionId"`
	MarketID      common.Hash    `json:"marketId"`
	Amount        *big.Int       `json:"amount"`
	Direction     Direction      `json:"direction"`
	EntryPrice    *big.Int       `json:"entryPrice"`
	Balance       *big.Int       `json:"balance"`
	OpenPositions int            `json:"openPositions"`
}

type PositionClosed struct {
	Agent         common.Address `json:"agent"`
	PositionID    uint64         `json:"positionId"`
	Payout        *big.Int       `json:"payout"`
	RealizedPnl   *big.Int       `json:"realizedPnl"`
	Balance       *big.Int       `json:"balance"`
	CumulativePnl *big.Int       `json:"cumulativePnl"`
	OpenPositions int            `json:"openPositions"`
	Wins          uint64         `json:"wins"`
	Losses        uint64         `json:"losses"`
}

type AgentPaused struct {
	Agent common.Address `json:"agent"`
}

type AgentUnpaused struct {
	Agent common.Address `json:"agent"`
}

type DailyLossLimitReached struct {
	Agent       common.Address `json:"agent"`
	Accumulated *big.Int       `json:"accumulated"`
	Limit       *big.Int       `json:"limit"`
}

type Minted struct {
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (MarketRegistered) EventName() string         { return EventMarketRegistered }
func (MarketStatusChanged) EventName() string      { return EventMarketStatusChanged }
func (ExecutorAuthorized) EventName() string       { return EventExecutorAuthorized }
func (GlobalConstraintsUpdated) EventName() string { return EventGlobalConstraintsUpdated }
func (GlobalTradingPaused) EventName() string      { return EventGlobalTradingPaused }
func (GlobalTradingResumed) EventName() string     { return EventGlobalTradingResumed }
func (VenueAdded) EventName() string               { return EventVenueAdded }
func (VenueStatusChanged) EventName() string       { return EventVenueStatusChanged }
func (MarketRouted) EventName() string             { return EventMarketRouted }
func (FeeUpdated) EventName() string               { return EventFeeUpdated }
func (FeeCollectorUpdated) EventName() string      { return EventFeeCollectorUpdated }
func (FeeCollected) EventName() string             { return EventFeeCollected }
func (PriceUpdated) EventName() string             { return EventPriceUpdated }
func (AgentCreated) EventName() string             { return EventAgentCreated }
func (CapitalDeposited) EventName() string         { return EventCapitalDeposited }
func (CapitalWithdrawn) EventName() string         { return EventCapitalWithdrawn }
func (TradeExecuted) EventName() string            { return EventTradeExecuted }
func (PositionClosed) EventName() string           { return EventPositionClosed }
func (AgentPaused) EventName() string              { return EventAgentPaused }
func (AgentUnpaused) EventName() string            { return EventAgentUnpaused }
func (DailyLossLimitReached) EventName() string    { return EventDailyLossLimitReached }
func (Minted) EventName() string                   { return EventMinted }

var eventTypes = map[string]func() Event{
	EventMarketRegistered:         func() Event { return &MarketRegistered{} },
	EventMarketStatusChanged:      func() Event { return &MarketStatusChanged{} },
	EventExecutorAuthorized:       func() Event { return &ExecutorAuthorized{} },
	EventGlobalConstraintsUpdated: func() Event { return &GlobalConstraintsUpdated{} },
	EventGlobalTradingPaused:      func() Event { return &GlobalTradingPaused{} },
	EventGlobalTradingResumed:     func() Event { return &GlobalTradingResumed{} },
	EventVenueAdded:               func() Event { return &VenueAdded{} },
	EventVenueStatusChanged:       func() Event { return &VenueStatusChanged{} },
	EventMarketRouted:             func() Event { return &MarketRouted{} },
	EventFeeUpdated:               func() Event { return &FeeUpdated{} },
	EventFeeCollectorUpdated:      func() Event { return &FeeCollectorUpdated{} },
	EventFeeCollected:             func() Event { return &FeeCollected{} },
	EventPriceUpdated:             func() Event { return &PriceUpdated{} },
	EventAgentCreated:             func() Event { return &AgentCreated{} },
	EventCapitalDeposited:         func() Event { return &CapitalDeposited{} },
	EventCapitalWithdrawn:         func() Event { return &CapitalWithdrawn{} },
	EventTradeExecuted:            func() Event { return &TradeExecuted{} },
	EventPositionClosed:           func() Event { return &PositionClosed{} },
	EventAgentPaused:              func() Event { return &AgentPaused{} },
	EventAgentUnpaused:            func() Event { return &AgentUnpaused{} },
	EventDailyLossLimitReached:    func() Event { return &DailyLossLimitReached{} },
	EventMinted:                   func() Event { return &Minted{} },
}

// DecodeEvent turns a committed record back into its typed payload. The
// result is a pointer to the concrete event struct.
func DecodeEvent(rec EventRecord) (Event, error) {
	mk, ok := eventTypes[rec.Name]
	if !ok {
		return nil, fmt.Errorf("domain: unknown event %q", rec.Name)
	}
	ev := mk()
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, ev); err != nil {
			return nil, fmt.Errorf("domain: decode %s: %w", rec.Name, err)
		}
	}
	return ev, nil
}
