// Package signer defines the signing capability the client orchestrator
// delegates to. Wallet custody stays outside this module; only the
// narrow typed-data signing call crosses the boundary.
package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/prompthash/paygate/eip712"
	"github.com/prompthash/paygate/types"
)

// Signer produces an ECDSA signature over the EIP-712 digest of a
// transfer authorization.
type Signer interface {
	// Address returns the payer address the signatures recover to.
	Address() string

	// SignTypedData signs the authorization under the given domain and
	// returns the 65-byte signature as 0x-prefixed hex.
	SignTypedData(domain eip712.Domain, auth types.ExactEvmAuthorization) (string, error)
}

// LocalSigner signs with an in-process private key. Intended for tests
// and server-side agents; interactive wallets implement Signer
// externally.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex-encoded secp256k1 private key.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *LocalSigner) Address() string {
	return s.address.Hex()
}

func (s *LocalSigner) SignTypedData(domain eip712.Domain, auth types.ExactEvmAuthorization) (string, error) {
	digest, err := eip712.AuthorizationDigest(domain, auth)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}
	// Contracts expect V as 27/28.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
