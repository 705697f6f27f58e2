package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side of a position: buy takes the YES outcome, sell
// takes NO.
type Direction uint8

const (
	DirectionBuy Direction = iota
	DirectionSell
)

func (d Direction) String() string {
	if d == DirectionSell {
		return "sell"
	}
	return "buy"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts "buy"/"sell" in any case, or a boolean where true
// means buy.
func (d *Direction) UnmarshalJSON(b []byte) error {
	var isBuy bool
	if err := json.Unmarshal(b, &isBuy); err == nil {
		if isBuy {
			*d = DirectionBuy
		} else {
			*d = DirectionSell
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("domain: direction: %w", err)
	}
	switch strings.ToLower(s) {
	case "buy":
		*d = DirectionBuy
	case "sell":
		*d = DirectionSell
	default:
		return fmt.Errorf("domain: unknown direction %q", s)
	}
	return nil
}

// PositionRef identifies a position at a venue.
type PositionRef struct {
	Venue common.Address `json:"venue"`
	ID    uint64         `json:"id"`
}

// Position is a wallet's record of capital committed to one market. It moves
// OPEN -> CLOSED exactly once and is never deleted.
type Position struct {
	ID          uint64      `json:"id"`
	MarketID    common.Hash `json:"marketId"`
	Direction   Direction   `json:"direction"`
	EntryAmount *big.Int    `json:"entryAmount"`
	EntryPrice  *big.Int    `json:"entryPrice"`
	IsOpen      bool        `json:"isOpen"`
	OpenedAt    time.Time   `json:"openedAt"`
	ClosedAt    *time.Time  `json:"closedAt,omitempty"`
	Payout      *big.Int    `json:"payout,omitempty"`
	RealizedPnl *big.Int    `json:"realizedPnl,omitempty"`
	Ref         PositionRef `json:"ref"`
}
