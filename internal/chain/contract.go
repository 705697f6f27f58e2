package chain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Contract is anything deployed at an address in the environment.
type Contract interface {
	Address() common.Address
	Kind() string
}

// Stateful contracts hand the environment an opaque copy of their state
// before the first write in a transaction and get it back on rollback.
type Stateful interface {
	Snapshot() any
	Restore(snapshot any)
}

// Guard is a non-reentrancy lock. The zero value is unlocked.
type Guard struct {
	entered bool
}

// Enter locks the guard or fails with ReentrantCall.
func (g *Guard) Enter() error {
	if g.entered {
		return domain.ErrReentrantCall
	}
	g.entered = true
	return nil
}

// Exit releases the guard.
func (g *Guard) Exit() {
	g.entered = false
}
