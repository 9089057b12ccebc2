package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Network identifies a payment network in CAIP-2 form, e.g. "eip155:103698795".
type Network string

// NetworkForChainID builds the CAIP-2 identifier for an EVM chain id.
func NetworkForChainID(chainID int64) Network {
	return Network(fmt.Sprintf("eip155:%d", chainID))
}

// ChainID extracts the numeric chain id from an eip155 network identifier.
func (n Network) ChainID() (int64, error) {
	rest, ok := strings.CutPrefix(string(n), "eip155:")
	if !ok {
		return 0, fmt.Errorf("network %q is not an eip155 identifier", n)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("network %q has invalid chain id: %w", n, err)
	}
	return id, nil
}

func (n Network) IsEVM() bool {
	return strings.HasPrefix(string(n), "eip155:")
}

func (n Network) String() string {
	return string(n)
}
