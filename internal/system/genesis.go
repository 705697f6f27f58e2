package system

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Fingerprint hashes every parameter that shapes contract state. Deploy
// fills in defaults first, so compare fingerprints of deployed params.
func (p Params) Fingerprint() (common.Hash, error) {
	type alloc struct {
		Account common.Address `json:"account"`
		Amount  *big.Int       `json:"amount"`
	}
	allocs := make([]alloc, 0, len(p.Alloc))
	for addr, amount := range p.Alloc {
		allocs = append(allocs, alloc{Account: addr, Amount: amount})
	}
	sort.Slice(allocs, func(i, j int) bool { return bytes.Compare(allocs[i].Account[:], allocs[j].Account[:]) < 0 })

	raw, err := json.Marshal(struct {
		Deployer     common.Address           `json:"deployer"`
		Executor     common.Address           `json:"executor"`
		FeeCollector common.Address           `json:"feeCollector"`
		FeeBps       uint64                   `json:"feeBps"`
		Constraints  domain.MarketConstraints `json:"constraints"`
		Liquidity    *big.Int                 `json:"liquidity"`
		VenueFunding *big.Int                 `json:"venueFunding"`
		Markets      []MarketSeed             `json:"markets"`
		Alloc        []alloc                  `json:"alloc"`
		Faucet       bool                     `json:"faucet"`
	}{p.Deployer, p.Executor, p.FeeCollector, p.FeeBps, p.Constraints, p.Liquidity, p.VenueFunding, p.Markets, allocs, p.Faucet})
	if err != nil {
		return common.Hash{}, fmt.Errorf("system: fingerprint params: %w", err)
	}
	return crypto.Keccak256Hash(raw), nil
}

// GenesisCalls returns the deployment transactions in the order they are
// submitted: the parameter fingerprint, allocations, venue funding, venue
// registration, default markets and executor authorization.
func (s *System) GenesisCalls() ([]domain.Call, error) {
	p := s.params
	var calls []domain.Call
	add := func(to common.Address, method string, args any) error {
		raw, err := EncodeArgs(args)
		if err != nil {
			return err
		}
		calls = append(calls, domain.Call{From: p.Deployer, To: to, Method: method, Args: raw})
		return nil
	}

	fp, err := p.Fingerprint()
	if err != nil {
		return nil, err
	}
	if err := add(common.Address{}, MethodGenesis, GenesisArgs{Params: fp}); err != nil {
		return nil, err
	}

	holders := make([]common.Address, 0, len(p.Alloc))
	for addr := range p.Alloc {
		holders = append(holders, addr)
	}
	sort.Slice(holders, func(i, j int) bool { return bytes.Compare(holders[i][:], holders[j][:]) < 0 })
	for _, addr := range holders {
		amount := p.Alloc[addr]
		if !domain.IsPositive(amount) {
			continue
		}
		if err := add(common.Address{}, MethodMint, MintArgs{To: addr, Amount: (*hexutil.Big)(amount)}); err != nil {
			return nil, err
		}
	}
	if domain.IsPositive(p.VenueFunding) {
		if err := add(common.Address{}, MethodMint, MintArgs{To: s.Addresses.Venue, Amount: (*hexutil.Big)(p.VenueFunding)}); err != nil {
			return nil, err
		}
	}

	if err := add(s.Addresses.Adapter, MethodAddMarket, AddMarketArgs{Venue: s.Addresses.Venue, MarketType: s.Venue.Type()}); err != nil {
		return nil, err
	}

	if len(p.Markets) > 0 {
		batch := BatchRegisterMarketsArgs{}
		for _, m := range p.Markets {
			batch.MarketIDs = append(batch.MarketIDs, m.ID())
			batch.Names = append(batch.Names, m.Name)
			batch.Regions = append(batch.Regions, m.Region)
		}
		if err := add(s.Addresses.Permissions, MethodBatchRegisterMarkets, batch); err != nil {
			return nil, err
		}
	}

	if p.Executor != (common.Address{}) {
		if err := add(s.Addresses.Permissions, MethodAuthorizeExecutor, AuthorizeExecutorArgs{Executor: p.Executor, Authorized: true}); err != nil {
			return nil, err
		}
	}
	return calls, nil
}

// checkGenesis compares the fingerprint at the head of log with this
// deployment before anything is replayed.
func (s *System) checkGenesis(ctx context.Context, log domain.LedgerStore) error {
	recs, err := log.ListTransactions(ctx, 0, 1)
	if err != nil {
		return fmt.Errorf("system: bootstrap: %w", err)
	}
	if len(recs) == 0 || recs[0].Call.To != (common.Address{}) || recs[0].Call.Method != MethodGenesis {
		return fmt.Errorf("system: bootstrap: %w: ledger has no genesis record", domain.ErrGenesisMismatch)
	}
	var a GenesisArgs
	if err := decodeArgs(recs[0].Call.Args, &a); err != nil {
		return fmt.Errorf("system: bootstrap: %w", err)
	}
	if err := s.matchParams(a.Params); err != nil {
		return fmt.Errorf("system: bootstrap: %w", err)
	}
	return nil
}

// Genesis submits the deployment transactions.
func (s *System) Genesis(ctx context.Context) error {
	calls, err := s.GenesisCalls()
	if err != nil {
		return err
	}
	for _, call := range calls {
		if _, err := s.Submit(ctx, call); err != nil {
			return fmt.Errorf("system: genesis %s: %w", call.Method, err)
		}
	}
	s.logger.InfoContext(ctx, "system: genesis complete",
		slog.Int("transactions", len(calls)),
		slog.String("permission_manager", s.Addresses.Permissions.Hex()),
		slog.String("market_adapter", s.Addresses.Adapter.Hex()),
		slog.String("agent_factory", s.Addresses.Factory.Hex()),
		slog.String("venue", s.Addresses.Venue.Hex()),
	)
	return nil
}
