// Package crypto signs and verifies call envelopes and keeps private keys
// encrypted at rest.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// envelopeTag separates call digests from any other message a key may sign.
var envelopeTag = ethcrypto.Keccak256([]byte("agentvault.call.v1"))

// Envelope is a call as submitted over the API. When signatures are
// required, Signature is an EIP-191 personal signature over Digest by From.
type Envelope struct {
	From      common.Address  `json:"from"`
	To        common.Address  `json:"to"`
	Method    string          `json:"method"`
	Value     *hexutil.Big    `json:"value,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Deadline  int64           `json:"deadline"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`
}

// NewEnvelope wraps call with a deadline.
func NewEnvelope(call domain.Call, deadline time.Time) Envelope {
	e := Envelope{
		From:     call.From,
		To:       call.To,
		Method:   call.Method,
		Args:     call.Args,
		Deadline: deadline.Unix(),
	}
	if call.Value != nil {
		e.Value = (*hexutil.Big)(new(big.Int).Set(call.Value))
	}
	return e
}

// Call returns the call the envelope carries.
func (e Envelope) Call() domain.Call {
	c := domain.Call{From: e.From, To: e.To, Method: e.Method, Args: e.Args}
	if e.Value != nil {
		c.Value = new(big.Int).Set(e.Value.ToInt())
	}
	return c
}

// Digest is keccak256 over the tag, the call fields and the deadline. The
// args are hashed as the exact bytes submitted.
func (e Envelope) Digest() common.Hash {
	var value *big.Int
	if e.Value != nil {
		value = e.Value.ToInt()
	}
	var deadline [8]byte
	binary.BigEndian.PutUint64(deadline[:], uint64(e.Deadline))
	return ethcrypto.Keccak256Hash(
		envelopeTag,
		e.From.Bytes(),
		e.To.Bytes(),
		ethcrypto.Keccak256([]byte(e.Method)),
		common.LeftPadBytes(domain.Clone(value).Bytes(), 32),
		ethcrypto.Keccak256(e.Args),
		deadline[:],
	)
}

// Recover returns the address that signed the envelope.
func (e Envelope) Recover() (common.Address, error) {
	if len(e.Signature) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(e.Signature))
	}
	sig := make([]byte, 65)
	copy(sig, e.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(e.Digest().Bytes()), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks the deadline against now and that From signed the envelope.
func (e Envelope) Verify(now time.Time) error {
	if e.Deadline <= 0 || now.Unix() > e.Deadline {
		return domain.ErrExpired
	}
	signer, err := e.Recover()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if signer != e.From {
		return fmt.Errorf("%w: signed by %s, not %s", domain.ErrUnauthorized, signer.Hex(), e.From.Hex())
	}
	return nil
}

// Signer signs call envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign fills in the envelope's signature. From must be the signer.
func (s *Signer) Sign(e Envelope) (Envelope, error) {
	if e.From != s.address {
		return e, fmt.Errorf("crypto/signer: envelope from %s cannot be signed by %s", e.From.Hex(), s.address.Hex())
	}
	sig, err := ethcrypto.Sign(accounts.TextHash(e.Digest().Bytes()), s.privateKey)
	if err != nil {
		return e, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets produce {27,28}.
	sig[64] += 27
	e.Signature = sig
	return e, nil
}
