package system

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/agentvault/internal/adapter"
	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/factory"
	"github.com/alanyoungcy/agentvault/internal/permission"
	"github.com/alanyoungcy/agentvault/internal/venue/amm"
	"github.com/alanyoungcy/agentvault/internal/wallet"
)

// Method names accepted by the dispatcher, grouped by contract.
const (
	MethodGenesis = "genesis"
	MethodMint    = "mint"

	MethodRegisterMarket          = "registerMarket"
	MethodBatchRegisterMarkets    = "batchRegisterMarkets"
	MethodSetMarketActive         = "setMarketActive"
	MethodAuthorizeExecutor       = "authorizeExecutor"
	MethodUpdateGlobalConstraints = "updateGlobalConstraints"
	MethodPauseGlobalTrading      = "pauseGlobalTrading"
	MethodResumeGlobalTrading     = "resumeGlobalTrading"

	MethodAddMarket       = "addMarket"
	MethodSetVenueActive  = "setVenueActive"
	MethodRouteMarket     = "routeMarket"
	MethodSetFee          = "setFee"
	MethodSetFeeCollector = "setFeeCollector"
	MethodOpenPosition    = "openPosition"

	MethodCreateAgent            = "createAgent"
	MethodCreateAgentWithProfile = "createAgentWithProfile"

	MethodDepositCapital  = "depositCapital"
	MethodWithdrawCapital = "withdrawCapital"
	MethodExecuteTrade    = "executeTrade"
	MethodClosePosition   = "closePosition"
	MethodPause           = "pause"
	MethodUnpause         = "unpause"
)

// Argument payloads. Amounts are hex quantities; market ids are 32-byte hex.
type (
	GenesisArgs struct {
		Params common.Hash `json:"params"`
	}
	MintArgs struct {
		To     common.Address `json:"to"`
		Amount *hexutil.Big   `json:"amount"`
	}
	RegisterMarketArgs struct {
		MarketID common.Hash `json:"marketId"`
		Name     string      `json:"name"`
		Region   string      `json:"region"`
	}
	BatchRegisterMarketsArgs struct {
		MarketIDs []common.Hash `json:"marketIds"`
		Names     []string      `json:"names"`
		Regions   []string      `json:"regions"`
	}
	SetMarketActiveArgs struct {
		MarketID common.Hash `json:"marketId"`
		Active   bool        `json:"active"`
	}
	AuthorizeExecutorArgs struct {
		Executor   common.Address `json:"executor"`
		Authorized bool           `json:"authorized"`
	}
	ConstraintsArgs struct {
		MinTradeSize      *hexutil.Big `json:"minTradeSize"`
		MaxTradeSize      *hexutil.Big `json:"maxTradeSize"`
		MinDailyLossLimit *hexutil.Big `json:"minDailyLossLimit"`
		MaxDailyLossLimit *hexutil.Big `json:"maxDailyLossLimit"`
	}
	AddMarketArgs struct {
		Venue      common.Address    `json:"venue"`
		MarketType domain.MarketType `json:"marketType"`
	}
	SetVenueActiveArgs struct {
		Venue  common.Address `json:"venue"`
		Active bool           `json:"active"`
	}
	RouteMarketArgs struct {
		MarketID common.Hash    `json:"marketId"`
		Venue    common.Address `json:"venue"`
	}
	SetFeeArgs struct {
		FeeBps uint64 `json:"feeBps"`
	}
	SetFeeCollectorArgs struct {
		FeeCollector common.Address `json:"feeCollector"`
	}
	OpenPositionArgs struct {
		MarketID  common.Hash      `json:"marketId"`
		Direction domain.Direction `json:"direction"`
	}
	ClosePositionRefArgs struct {
		Ref domain.PositionRef `json:"ref"`
	}
	CreateAgentArgs struct {
		MaxTradeSize   *hexutil.Big  `json:"maxTradeSize"`
		DailyLossLimit *hexutil.Big  `json:"dailyLossLimit"`
		MarketIDs      []common.Hash `json:"marketIds"`
	}
	CreateAgentWithProfileArgs struct {
		RiskProfile domain.RiskProfile `json:"riskProfile"`
		MarketIDs   []common.Hash      `json:"marketIds"`
	}
	WithdrawCapitalArgs struct {
		Amount *hexutil.Big `json:"amount"`
	}
	ExecuteTradeArgs struct {
		MarketID  common.Hash      `json:"marketId"`
		Amount    *hexutil.Big     `json:"amount"`
		Direction domain.Direction `json:"direction"`
	}
	ClosePositionArgs struct {
		PositionID uint64 `json:"positionId"`
	}
)

// Return payloads.
type (
	AgentCreatedResult struct {
		Agent common.Address `json:"agent"`
	}
	TradeResult struct {
		PositionID uint64 `json:"positionId"`
	}
	OpenPositionResult struct {
		Ref   domain.PositionRef `json:"ref"`
		Price *big.Int           `json:"price"`
	}
	PayoutResult struct {
		Payout *big.Int `json:"payout"`
	}
)

// EncodeArgs marshals an argument payload for a Call.
func EncodeArgs(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("system: encode args: %w", err)
	}
	return b, nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgs, err)
	}
	return nil
}

func bigOf(h *hexutil.Big) *big.Int {
	if h == nil {
		return nil
	}
	return new(big.Int).Set(h.ToInt())
}

// payable lists the methods that accept value.
var payable = map[string]bool{
	"":                   true,
	MethodOpenPosition:   true,
	MethodDepositCapital: true,
}

// handler routes call by the kind of contract at call.To.
func (s *System) handler(call domain.Call) chain.Handler {
	return func(c *chain.Context) (any, error) {
		if domain.IsPositive(call.Value) && !payable[call.Method] {
			return nil, domain.ErrNotPayable
		}
		if call.To == (common.Address{}) {
			return nil, s.system(c, call)
		}
		ct, isContract := c.Contract(call.To)
		if call.Method == "" {
			return nil, plainTransfer(c, ct, isContract)
		}
		if !isContract {
			return nil, domain.ErrUnknownContract
		}
		switch ct := ct.(type) {
		case *permission.Manager:
			return nil, dispatchPermissions(c, ct, call)
		case *adapter.Adapter:
			return dispatchAdapter(c, ct, call)
		case *factory.Factory:
			return dispatchFactory(c, ct, call)
		case *wallet.Wallet:
			return dispatchWallet(c, ct, call)
		default:
			return nil, domain.ErrUnknownMethod
		}
	}
}

// system handles calls to the zero address.
func (s *System) system(c *chain.Context, call domain.Call) error {
	switch call.Method {
	case MethodGenesis:
		return s.genesis(c, call)
	case MethodMint:
		return s.mint(c, call)
	default:
		return domain.ErrUnknownMethod
	}
}

// genesis pins the ledger to the parameters it was written with. It is only
// valid as the first transaction.
func (s *System) genesis(c *chain.Context, call domain.Call) error {
	if c.Sender != s.params.Deployer {
		return domain.ErrNotOwner
	}
	if c.Seq != 1 {
		return fmt.Errorf("%w: genesis must be the first transaction", domain.ErrInvalidArgs)
	}
	var a GenesisArgs
	if err := decodeArgs(call.Args, &a); err != nil {
		return err
	}
	return s.matchParams(a.Params)
}

func (s *System) matchParams(recorded common.Hash) error {
	fp, err := s.params.Fingerprint()
	if err != nil {
		return err
	}
	if recorded != fp {
		return fmt.Errorf("%w: ledger written with parameters %s, deployment has %s", domain.ErrGenesisMismatch, recorded.Hex(), fp.Hex())
	}
	return nil
}

func (s *System) mint(c *chain.Context, call domain.Call) error {
	if c.Sender != s.params.Deployer && !s.params.Faucet {
		return domain.ErrNotOwner
	}
	var a MintArgs
	if err := decodeArgs(call.Args, &a); err != nil {
		return err
	}
	amount := bigOf(a.Amount)
	if !domain.IsPositive(amount) || a.To == (common.Address{}) {
		return domain.ErrInvalidAmount
	}
	c.Mint(a.To, amount)
	c.Emit(domain.Minted{To: a.To, Amount: amount})
	return nil
}

// plainTransfer accepts value sent without a method. Only accounts and
// venues may receive it; wallets take capital through depositCapital.
func plainTransfer(c *chain.Context, ct chain.Contract, isContract bool) error {
	if !domain.IsPositive(c.Value) {
		return domain.ErrInvalidAmount
	}
	if isContract && ct.Kind() != amm.Kind {
		return domain.ErrNotPayable
	}
	return nil
}

func dispatchPermissions(c *chain.Context, m *permission.Manager, call domain.Call) error {
	switch call.Method {
	case MethodRegisterMarket:
		var a RegisterMarketArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		return m.RegisterMarket(c, a.MarketID, a.Name, a.Region)
	case MethodBatchRegisterMarkets:
		var a BatchRegisterMarketsArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		return m.BatchRegisterMarkets(c, a.MarketIDs, a.Names, a.Regions)
	case MethodSetMarketActive:
		var a SetMarketActiveArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		return m.SetMarketActive(c, a.MarketID, a.Active)
	case MethodAuthorizeExecutor:
		var a AuthorizeExecutorArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		return m.AuthorizeExecutor(c, a.Executor, a.Authorized)
	case MethodUpdateGlobalConstraints:
		var a ConstraintsArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		if a.MinTradeSize == nil || a.MaxTradeSize == nil || a.MinDailyLossLimit == nil || a.MaxDailyLossLimit == nil {
			return domain.ErrInvalidArgs
		}
		return m.UpdateGlobalConstraints(c, domain.MarketConstraints{
			MinTradeSize:      bigOf(a.MinTradeSize),
			MaxTradeSize:      bigOf(a.MaxTradeSize),
			MinDailyLossLimit: bigOf(a.MinDailyLossLimit),
			MaxDailyLossLimit: bigOf(a.MaxDailyLossLimit),
		})
	case MethodPauseGlobalTrading:
		return m.PauseGlobalTrading(c)
	case MethodResumeGlobalTrading:
		return m.ResumeGlobalTrading(c)
	default:
		return domain.ErrUnknownMethod
	}
}

func dispatchAdapter(c *chain.Context, a *adapter.Adapter, call domain.Call) (any, error) {
	switch call.Method {
	case MethodAddMarket:
		var args AddMarketArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		return nil, a.AddMarket(c, args.Venue, args.MarketType)
	case MethodSetVenueActive:
		var args SetVenueActiveArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		return nil, a.SetMarketActive(c, args.Venue, args.Active)
	case MethodRouteMarket:
		var args RouteMarketArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		return nil, a.RouteMarket(c, args.MarketID, args.Venue)
	case MethodSetFee:
		var args SetFeeArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		return nil, a.SetFee(c, args.FeeBps)
	case MethodSetFeeCollector:
		var args SetFeeCollectorArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		return nil, a.SetFeeCollector(c, args.FeeCollector)
	case MethodOpenPosition:
		var args OpenPositionArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		ref, price, err := a.OpenPosition(c, args.MarketID, args.Direction)
		if err != nil {
			return nil, err
		}
		return OpenPositionResult{Ref: ref, Price: price}, nil
	case MethodClosePosition:
		var args ClosePositionRefArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return nil, err
		}
		payout, err := a.ClosePosition(c, args.Ref)
		if err != nil {
			return nil, err
		}
		return PayoutResult{Payout: payout}, nil
	default:
		return nil, domain.ErrUnknownMethod
	}
}

func dispatchFactory(c *chain.Context, f *factory.Factory, call domain.Call) (any, error) {
	var (
		agent common.Address
		err   error
	)
	switch call.Method {
	case MethodCreateAgent:
		var a CreateAgentArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return nil, err
		}
		agent, err = f.CreateAgent(c, bigOf(a.MaxTradeSize), bigOf(a.DailyLossLimit), a.MarketIDs)
	case MethodCreateAgentWithProfile:
		var a CreateAgentWithProfileArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return nil, err
		}
		agent, err = f.CreateAgentWithProfile(c, a.RiskProfile, a.MarketIDs)
	default:
		return nil, domain.ErrUnknownMethod
	}
	if err != nil {
		return nil, err
	}
	return AgentCreatedResult{Agent: agent}, nil
}

func dispatchWallet(c *chain.Context, w *wallet.Wallet, call domain.Call) (any, error) {
	switch call.Method {
	case MethodDepositCapital:
		return nil, w.Deposit(c)
	case MethodWithdrawCapital:
		var a WithdrawCapitalArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return nil, err
		}
		return nil, w.Withdraw(c, bigOf(a.Amount))
	case MethodExecuteTrade:
		var a ExecuteTradeArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return nil, err
		}
		id, err := w.ExecuteTrade(c, a.MarketID, bigOf(a.Amount), a.Direction)
		if err != nil {
			return nil, err
		}
		return TradeResult{PositionID: id}, nil
	case MethodClosePosition:
		var a ClosePositionArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return nil, err
		}
		payout, err := w.ClosePosition(c, a.PositionID)
		if err != nil {
			return nil, err
		}
		return PayoutResult{Payout: payout}, nil
	case MethodPause:
		return nil, w.Pause(c)
	case MethodUnpause:
		return nil, w.Unpause(c)
	default:
		return nil, domain.ErrUnknownMethod
	}
}
