package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one entry-point invocation: the unit every external caller,
// including the executor process, submits.
type Call struct {
	From   common.Address  `json:"from"`
	To     common.Address  `json:"to"`
	Method string          `json:"method"`
	Value  *big.Int        `json:"value,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// TxRecord is a committed call. Replaying every record in Seq order with its
// Timestamp rebuilds the state exactly.
type TxRecord struct {
	Seq       uint64      `json:"seq"`
	Hash      common.Hash `json:"hash"`
	Call      Call        `json:"call"`
	Timestamp time.Time   `json:"timestamp"`
}
