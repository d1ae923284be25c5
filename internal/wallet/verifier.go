package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/peermeet/call-server-go/internal/model"
)

// Verifier checks that a signature over the issued nonce was produced by the
// wallet claiming the address. Implementations are per wallet type; the
// concrete proof format is wallet-specific.
type Verifier interface {
	Verify(address, message, signature string) error
}

// Registry dispatches verification by wallet type. Unknown types fail closed.
type Registry struct {
	verifiers map[model.WalletType]Verifier
}

func NewRegistry() *Registry {
	return &Registry{
		verifiers: map[model.WalletType]Verifier{
			model.WalletTypeSui: Ed25519Verifier{},
			model.WalletTypeEVM: EVMVerifier{},
		},
	}
}

func (r *Registry) Verify(walletType model.WalletType, address, message, signature string) error {
	v, ok := r.verifiers[walletType]
	if !ok {
		return fmt.Errorf("unsupported wallet type %q", walletType)
	}
	return v.Verify(address, message, signature)
}

// Ed25519Verifier verifies ed25519 wallet proofs. The address is the
// 0x-prefixed hex encoding of the 32-byte public key and the signature is the
// base64-encoded 64-byte ed25519 signature over the raw nonce bytes.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(address, message, signature string) error {
	pub, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("address must encode a %d-byte public key, got %d bytes", ed25519.PublicKeySize, len(pub))
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		return fmt.Errorf("signature does not verify against address")
	}
	return nil
}

// EVMVerifier verifies EIP-191 personal-sign proofs: the signature is the
// 0x-prefixed hex encoding of the 65-byte [R || S || V] secp256k1 signature
// over the prefixed message hash, and the address must match the recovered
// public key.
type EVMVerifier struct{}

func (EVMVerifier) Verify(address, message, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Wallets emit V as 27/28; SigToPub expects 0/1.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	hash := personalSignHash([]byte(message))
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("recover public key: %w", err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return fmt.Errorf("recovered address %s does not match %s", recovered.Hex(), address)
	}
	return nil
}

func personalSignHash(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return ethcrypto.Keccak256([]byte(prefixed))
}
