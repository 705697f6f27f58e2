package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Ledger holds native balances. Writes go through a transaction's journal so
// they can be undone.
type Ledger struct {
	balances map[common.Address]*big.Int
}

func newLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]*big.Int)}
}

// Balance returns a copy of addr's balance.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	return domain.Clone(l.balances[addr])
}

// Total returns the sum of all balances.
func (l *Ledger) Total() *big.Int {
	sum := new(big.Int)
	for _, b := range l.balances {
		sum.Add(sum, b)
	}
	return sum
}

type balanceEntry struct {
	addr common.Address
	prev *big.Int
	had  bool
}

func (l *Ledger) set(j *[]balanceEntry, addr common.Address, v *big.Int) {
	prev, had := l.balances[addr]
	*j = append(*j, balanceEntry{addr: addr, prev: prev, had: had})
	l.balances[addr] = v
}

func (l *Ledger) revert(j []balanceEntry) {
	for i := len(j) - 1; i >= 0; i-- {
		e := j[i]
		if e.had {
			l.balances[e.addr] = e.prev
		} else {
			delete(l.balances, e.addr)
		}
	}
}
