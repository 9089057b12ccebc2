// Package eip712 builds the typed-data digests signed for the exact
// payment scheme (EIP-3009 TransferWithAuthorization) and recovers
// signers from them.
package eip712

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/prompthash/paygate/types"
)

// Domain is the EIP-712 domain separator input for the payment token.
type Domain struct {
	Name              string // token name, e.g. "USDC"
	Version           string // e.g. "2"
	ChainID           string // decimal string
	VerifyingContract string // token contract address
}

// DomainForRequirements derives the signing domain from a payment
// requirement. Token name and version default to the USDC convention and
// may be overridden via the requirement's extra fields.
func DomainForRequirements(req *types.PaymentRequirements) (Domain, error) {
	chainID, err := req.Network.ChainID()
	if err != nil {
		return Domain{}, err
	}
	d := Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           fmt.Sprintf("%d", chainID),
		VerifyingContract: req.Asset,
	}
	if name, ok := req.Extra["name"].(string); ok && name != "" {
		d.Name = name
	}
	if version, ok := req.Extra["version"].(string); ok && version != "" {
		d.Version = version
	}
	return d, nil
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// DomainSeparator hashes the domain per EIP-712.
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == "" || d.VerifyingContract == "" {
		return common.Hash{}, errors.New("incomplete domain")
	}
	chainID, err := decimalToBig(d.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	return keccakConcat(
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(d.Name)).Bytes(),
		crypto.Keccak256Hash([]byte(d.Version)).Bytes(),
		padLeft32(chainID),
		addressTo32(common.HexToAddress(d.VerifyingContract)),
	), nil
}

// AuthorizationDigest builds the final EIP-712 digest for a transfer
// authorization. Value and validity bounds are decimal strings; the
// nonce is 32 bytes of hex.
func AuthorizationDigest(d Domain, auth types.ExactEvmAuthorization) (common.Hash, error) {
	domainSep, err := DomainSeparator(d)
	if err != nil {
		return common.Hash{}, err
	}

	value, err := decimalToBig(auth.Value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid value: %w", err)
	}
	validAfter, err := decimalToBig(auth.ValidAfter)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid validAfter: %w", err)
	}
	validBefore, err := decimalToBig(auth.ValidBefore)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid validBefore: %w", err)
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid nonce: %w", err)
	}

	structHash := keccakConcat(
		transferAuthTypeHash.Bytes(),
		addressTo32(common.HexToAddress(auth.From)),
		addressTo32(common.HexToAddress(auth.To)),
		padLeft32(value),
		padLeft32(validAfter),
		padLeft32(validBefore),
		nonce[:],
	)

	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, domainSep.Bytes()...), structHash.Bytes()...)), nil
}

// RecoverSigner recovers the address that produced sig over digest. The
// signature is 65 bytes R||S||V; V is normalized from 27/28 to 0/1.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pubKey, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("sig to pub failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// HexToBytes32 parses hex (with or without 0x) into a left-padded
// 32-byte array.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, fmt.Errorf("value longer than 32 bytes")
	}
	copy(out[32-len(b):], b)
	return out, nil
}

func decimalToBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid decimal integer string")
	}
	return n, nil
}

func keccakConcat(parts ...[]byte) common.Hash {
	joined := []byte{}
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}
