package indexer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// PortfolioStats aggregates owner's agents from the mirror. Capital is net
// deposits; an agent is active while it is not paused.
func PortfolioStats(ctx context.Context, mirror domain.MirrorStore, owner common.Address) (domain.PortfolioStats, error) {
	agents, err := mirror.ListAgents(ctx, owner)
	if err != nil {
		return domain.PortfolioStats{}, fmt.Errorf("indexer: portfolio %s: %w", owner.Hex(), err)
	}

	capital, pnl := new(big.Int), new(big.Int)
	stats := domain.PortfolioStats{TotalAgents: len(agents)}
	var winRates float64
	for _, a := range agents {
		capital.Add(capital, domain.Sub(a.TotalDeposited, a.TotalWithdrawn))
		pnl.Add(pnl, domain.Clone(a.Pnl))
		if !a.Paused {
			stats.ActiveAgents++
		}
		stats.TotalTrades += a.TotalTrades
		winRates += a.WinRate()
	}

	stats.TotalCapital = domain.FormatEther(capital)
	stats.TotalPnl = domain.FormatEther(pnl)
	if capital.Sign() > 0 {
		pct, _ := decimal.NewFromBigInt(pnl, 0).
			Div(decimal.NewFromBigInt(capital, 0)).
			Mul(decimal.NewFromInt(100)).
			Round(4).
			Float64()
		stats.TotalPnlPercent = pct
	}
	if len(agents) > 0 {
		stats.AvgWinRate = winRates / float64(len(agents))
	}
	return stats, nil
}
