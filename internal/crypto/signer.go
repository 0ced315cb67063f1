package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces EIP-191 personal-sign signatures with a secp256k1 key.
// The operator uses it to attest phase transitions; traders use the same
// scheme client-side to authenticate API requests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
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

// SignMessage signs an arbitrary message with the EIP-191 personal-sign
// prefix and returns a hex-encoded 65-byte signature (r || s || v).
func (s *Signer) SignMessage(message []byte) (string, error) {
	digest := personalHash(message)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress recovers the signing address from an EIP-191 personal-sign
// signature over the given message. It accepts v in {0,1} and {27,28}.
func RecoverAddress(message []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sig))
	}

	// SigToPub expects v in {0,1}; normalise without mutating the caller's
	// data.
	normalised := make([]byte, 65)
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalHash(message), normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}

	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sigHex is a valid personal-sign signature over
// message by the given address.
func Verify(address common.Address, message []byte, sigHex string) bool {
	recovered, err := RecoverAddress(message, sigHex)
	if err != nil {
		return false
	}
	return recovered == address
}

// personalHash computes the EIP-191 digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func personalHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}
