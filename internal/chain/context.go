package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Context is what a contract sees while a transaction executes. Nested calls
// get their own Context sharing the transaction's journal.
type Context struct {
	Sender common.Address
	Value  *big.Int
	Now    time.Time
	Self   common.Address
	Seq    uint64

	tx *txState
}

type emitted struct {
	contract common.Address
	event    domain.Event
}

type touched struct {
	state    Stateful
	snapshot any
}

// txState is shared by every frame of one transaction.
type txState struct {
	env      *Env
	journal  []balanceEntry
	touched  []touched
	seen     map[Stateful]bool
	deployed []common.Address
	events   []emitted
}

func (t *txState) rollback() {
	t.env.ledger.revert(t.journal)
	for i := len(t.touched) - 1; i >= 0; i-- {
		t.touched[i].state.Restore(t.touched[i].snapshot)
	}
	for _, addr := range t.deployed {
		delete(t.env.contracts, addr)
	}
	t.journal = nil
	t.touched = nil
	t.deployed = nil
	t.events = nil
}

// Touch snapshots s the first time it is written in this transaction.
// Contracts call it before mutating their state.
func (c *Context) Touch(s Stateful) {
	if c.tx.seen[s] {
		return
	}
	c.tx.seen[s] = true
	c.tx.touched = append(c.tx.touched, touched{state: s, snapshot: s.Snapshot()})
}

// Emit buffers an event from the current contract. Buffered events are
// dropped if the transaction fails.
func (c *Context) Emit(ev domain.Event) {
	c.tx.events = append(c.tx.events, emitted{contract: c.Self, event: ev})
}

// BalanceOf returns the native balance of addr.
func (c *Context) BalanceOf(addr common.Address) *big.Int {
	return c.tx.env.ledger.Balance(addr)
}

// Transfer moves amount from the current contract to to.
func (c *Context) Transfer(to common.Address, amount *big.Int) error {
	return c.tx.transfer(c.Self, to, amount)
}

// Call opens a nested frame on target, moving value there first. Inside the
// frame Sender is the current contract.
func (c *Context) Call(target common.Address, value *big.Int) (*Context, error) {
	if err := c.tx.transfer(c.Self, target, value); err != nil {
		return nil, err
	}
	return &Context{
		Sender: c.Self,
		Value:  domain.Clone(value),
		Now:    c.Now,
		Self:   target,
		Seq:    c.Seq,
		tx:     c.tx,
	}, nil
}

// Contract looks up a deployed contract, including ones deployed earlier in
// this transaction.
func (c *Context) Contract(addr common.Address) (Contract, bool) {
	ct, ok := c.tx.env.contracts[addr]
	return ct, ok
}

// Deploy registers a new contract. The registration is undone on rollback.
func (c *Context) Deploy(ct Contract) error {
	addr := ct.Address()
	if _, exists := c.tx.env.contracts[addr]; exists {
		return fmt.Errorf("chain: deploy %s: %w", addr.Hex(), domain.ErrInvalidArgs)
	}
	c.tx.env.contracts[addr] = ct
	c.tx.deployed = append(c.tx.deployed, addr)
	return nil
}

// Mint credits amount to to out of thin air. Only genesis allocation and the
// development faucet use it.
func (c *Context) Mint(to common.Address, amount *big.Int) {
	l := c.tx.env.ledger
	l.set(&c.tx.journal, to, domain.Add(l.balances[to], amount))
}

func (t *txState) transfer(from, to common.Address, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	l := t.env.ledger
	bal := domain.Clone(l.balances[from])
	if bal.Cmp(amount) < 0 {
		return domain.ErrTransferFailed
	}
	l.set(&t.journal, from, new(big.Int).Sub(bal, amount))
	l.set(&t.journal, to, domain.Add(l.balances[to], amount))
	return nil
}
