package functions

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)

// ReturnType declares how response bytes are interpreted
type ReturnType string

const (
	ReturnTypeUint256 ReturnType = "uint256"
	ReturnTypeInt256  ReturnType = "int256"
	ReturnTypeString  ReturnType = "string"
	ReturnTypeBytes   ReturnType = "bytes"
)

// ParseReturnType validates a configured return type name
func ParseReturnType(s string) (ReturnType, error) {
	switch rt := ReturnType(s); rt {
	case ReturnTypeUint256, ReturnTypeInt256, ReturnTypeString, ReturnTypeBytes:
		return rt, nil
	}
	return "", fmt.Errorf("unsupported return type %q", s)
}

// DecodeResult interprets a 0x-prefixed response according to rt.
// Numeric types yield *big.Int, string yields string and bytes yields the
// hex string unchanged.
func DecodeResult(responseHex string, rt ReturnType) (any, error) {
	raw, err := hexutil.Decode(responseHex)
	if err != nil {
		return nil, fmt.Errorf("response is not valid hex: %w", err)
	}

	switch rt {
	case ReturnTypeUint256:
		if len(raw) > 32 {
			return nil, fmt.Errorf("%d byte response is too long for %s", len(raw), rt)
		}
		return new(big.Int).SetBytes(raw), nil
	case ReturnTypeInt256:
		if len(raw) > 32 {
			return nil, fmt.Errorf("%d byte response is too long for %s", len(raw), rt)
		}
		return toSigned256(new(big.Int).SetBytes(raw)), nil
	case ReturnTypeString:
		return string(raw), nil
	case ReturnTypeBytes:
		return hexutil.Encode(raw), nil
	}
	return nil, fmt.Errorf("unsupported return type %q", rt)
}

// toSigned256 reads n as a two's complement 256-bit value
func toSigned256(n *big.Int) *big.Int {
	if n.Bit(255) == 1 {
		return n.Sub(n, twoTo256)
	}
	return n
}
