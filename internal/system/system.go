// Package system deploys the contract set into a chain environment and
// exposes it through a single call-dispatch entry point.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/agentvault/internal/adapter"
	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/factory"
	"github.com/alanyoungcy/agentvault/internal/permission"
	"github.com/alanyoungcy/agentvault/internal/venue/amm"
)

// MarketSeed is a market registered at genesis.
type MarketSeed struct {
	Key            string
	Name           string
	Region         string
	ProbabilityBps uint64
}

// ID is keccak256 of the key.
func (m MarketSeed) ID() common.Hash { return domain.MarketIDFromKey(m.Key) }

// DefaultMarkets are the markets the deployment registers.
func DefaultMarkets() []MarketSeed {
	return []MarketSeed{
		{Key: "NIGERIA_ELECTION_2027", Name: "Nigerian Presidential Election 2027", Region: "Nigeria", ProbabilityBps: 4_200},
		{Key: "SA_POLICY_CHANGE", Name: "South Africa Mining Policy Change 2026", Region: "South Africa", ProbabilityBps: 3_500},
	}
}

// Params configures a deployment.
type Params struct {
	Deployer     common.Address
	Executor     common.Address
	FeeCollector common.Address
	FeeBps       uint64
	Constraints  domain.MarketConstraints
	Liquidity    *big.Int
	VenueFunding *big.Int
	Markets      []MarketSeed
	Alloc        map[common.Address]*big.Int
	// Faucet lets any account mint test funds.
	Faucet bool
}

// DefaultParams returns a local development deployment.
func DefaultParams(deployer, executor common.Address) Params {
	return Params{
		Deployer:     deployer,
		Executor:     executor,
		FeeCollector: deployer,
		FeeBps:       adapter.DefaultFeeBps,
		Constraints:  domain.DefaultConstraints(),
		Liquidity:    domain.Ether("10"),
		VenueFunding: domain.Ether("100"),
		Markets:      DefaultMarkets(),
	}
}

// Addresses are the fixed system contract addresses.
type Addresses struct {
	Venue       common.Address `json:"venue"`
	Permissions common.Address `json:"permissionManager"`
	Adapter     common.Address `json:"marketAdapter"`
	Factory     common.Address `json:"agentFactory"`
}

// AddressesFor derives the contract addresses from the deployer the same
// way CREATE does for its first four deployments.
func AddressesFor(deployer common.Address) Addresses {
	return Addresses{
		Venue:       crypto.CreateAddress(deployer, 0),
		Permissions: crypto.CreateAddress(deployer, 1),
		Adapter:     crypto.CreateAddress(deployer, 2),
		Factory:     crypto.CreateAddress(deployer, 3),
	}
}

// System is a deployed contract set.
type System struct {
	Env         *chain.Env
	Addresses   Addresses
	Permissions *permission.Manager
	Venue       *amm.Market
	Adapter     *adapter.Adapter
	Factory     *factory.Factory

	params Params
	logger *slog.Logger
}

// Deploy constructs the system contracts and registers them in env.
func Deploy(env *chain.Env, p Params, logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if p.Deployer == (common.Address{}) {
		return nil, fmt.Errorf("system: deploy: deployer address is required")
	}
	if p.FeeCollector == (common.Address{}) {
		p.FeeCollector = p.Deployer
	}
	addrs := AddressesFor(p.Deployer)

	probs := make(map[common.Hash]uint64, len(p.Markets))
	for _, m := range p.Markets {
		if m.ProbabilityBps > 0 {
			probs[m.ID()] = m.ProbabilityBps
		}
	}

	venue := amm.New(addrs.Venue, amm.Config{Liquidity: p.Liquidity, ProbabilityBps: probs})
	perms := permission.New(addrs.Permissions, p.Deployer, p.Constraints)
	adp := adapter.New(addrs.Adapter, p.Deployer, p.FeeCollector, p.FeeBps)
	fac := factory.New(addrs.Factory, p.Executor, perms, adp)

	for _, ct := range []chain.Contract{venue, perms, adp, fac} {
		if err := env.Register(ct); err != nil {
			return nil, fmt.Errorf("system: deploy: %w", err)
		}
	}

	return &System{
		Env:         env,
		Addresses:   addrs,
		Permissions: perms,
		Venue:       venue,
		Adapter:     adp,
		Factory:     fac,
		params:      p,
		logger:      logger.With(slog.String("component", "system")),
	}, nil
}

// Submit executes call as the next transaction.
func (s *System) Submit(ctx context.Context, call domain.Call) (*chain.Receipt, error) {
	return s.Env.Execute(ctx, call, s.handler(call))
}

// Bootstrap brings the environment to the state recorded in log: an empty
// log gets the genesis transactions, otherwise every recorded transaction
// is replayed in order. A log written under different deployment parameters
// is refused with domain.ErrGenesisMismatch.
func (s *System) Bootstrap(ctx context.Context, log domain.LedgerStore) error {
	last, err := log.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("system: bootstrap: %w", err)
	}
	if last == 0 {
		return s.Genesis(ctx)
	}
	if err := s.checkGenesis(ctx, log); err != nil {
		return err
	}
	n, err := s.Replay(ctx, log)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "system: replayed transaction log",
		slog.Int("transactions", n),
		slog.Uint64("last_seq", last),
	)
	return nil
}

const replayPage = 500

// Replay re-executes every transaction in log after the current sequence.
func (s *System) Replay(ctx context.Context, log domain.LedgerStore) (int, error) {
	var (
		after uint64
		total int
	)
	if err := s.Env.View(func(st chain.State) error {
		after = st.Seq()
		return nil
	}); err != nil {
		return 0, fmt.Errorf("system: replay: %w", err)
	}
	for {
		recs, err := log.ListTransactions(ctx, after, replayPage)
		if err != nil {
			return total, fmt.Errorf("system: replay: list after %d: %w", after, err)
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if _, err := s.Env.Replay(ctx, rec, s.handler(rec.Call)); err != nil {
				return total, fmt.Errorf("system: replay seq %d: %w", rec.Seq, err)
			}
			after = rec.Seq
			total++
		}
		if len(recs) < replayPage {
			return total, nil
		}
	}
}
