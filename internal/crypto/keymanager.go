package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor for new key
	// files.
	DefaultIterations = 480_000

	keyFileVersion = 2
	kdfName        = "pbkdf2-sha256"
	saltLen        = 16
	aesKeyLen      = 32
)

// keyFile is the JSON written by agentctl encrypt-key. The address is kept
// in clear so a file can be matched to an agent owner without the password;
// it is also the AEAD associated data, so editing it breaks decryption.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	KDF        kdfParams      `json:"kdf"`
	Nonce      hexutil.Bytes  `json:"nonce"`
	Ciphertext hexutil.Bytes  `json:"ciphertext"`
}

type kdfParams struct {
	Name       string        `json:"name"`
	Iterations int           `json:"iterations"`
	Salt       hexutil.Bytes `json:"salt"`
}

// KeyConfig says where the operator or agent owner key comes from. A raw
// key wins over an encrypted file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex secp256k1 key under password with AES-256-GCM. A
// non-positive iterations uses DefaultIterations.
func EncryptKey(privateKeyHex, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	kf := keyFile{
		Version: keyFileVersion,
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		KDF:     kdfParams{Name: kdfName, Iterations: iterations, Salt: make([]byte, saltLen)},
	}
	if _, err := rand.Read(kf.KDF.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := kf.KDF.aead(password)
	if err != nil {
		return nil, err
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(pk), kf.Address.Bytes())

	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file and returns the key as hex without 0x. The
// recovered key must match the address recorded in the file.
func DecryptKey(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(blob, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.KDF.Name != kdfName || kf.KDF.Iterations <= 0 {
		return "", fmt.Errorf("crypto: unsupported kdf %q", kf.KDF.Name)
	}

	aead, err := kf.KDF.aead(password)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce has %d bytes, want %d", len(kf.Nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, kf.Address.Bytes())
	if err != nil {
		return "", errors.New("crypto: wrong password or corrupted key file")
	}

	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypted key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != kf.Address {
		return "", fmt.Errorf("crypto: key file is for %s but holds the key of %s", kf.Address.Hex(), got.Hex())
	}
	return common.Bytes2Hex(plain), nil
}

func (p kdfParams) aead(password string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), p.Salt, p.Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

// LoadKey returns the hex key described by cfg.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		pk, err := parseKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return common.Bytes2Hex(ethcrypto.FromECDSA(pk)), nil
	case cfg.EncryptedKeyPath != "":
		blob, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(blob, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no private key configured (set a raw key or an encrypted key file)")
	}
}

// LoadSigner resolves the key described by cfg and builds a Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}
