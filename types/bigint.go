package types

import (
	"math/big"

	"github.com/pkg/errors"
)

// BigInt is an arbitrary-precision non-negative integer, used for consensus
// weight. BlockHeader stores weight as a decimal string (see header.go) so
// that go-ipld-cbor's reflection codec never has to reach into big.Int's
// unexported fields; BigInt is the in-memory form chain.Weigher.Weight
// returns and chain.Store.UpdateHeaviest compares.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps an int64 as a BigInt.
func NewBigInt(i int64) BigInt {
	return BigInt{big.NewInt(i)}
}

// ZeroBigInt is the additive identity.
func ZeroBigInt() BigInt {
	return NewBigInt(0)
}

// ParseBigInt parses the decimal string form used by BlockHeader.ParentWeight.
func ParseBigInt(s string) (BigInt, error) {
	if s == "" {
		return ZeroBigInt(), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigInt{}, errors.Errorf("invalid weight encoding %q", s)
	}
	return BigInt{v}, nil
}

// String renders the decimal form persisted on the wire.
func (b BigInt) String() string {
	if b.Int == nil {
		return "0"
	}
	return b.Int.String()
}

// GreaterThan reports whether b > other, the sole comparison
// chain.Store.UpdateHeaviest needs between two consensus weights.
func (b BigInt) GreaterThan(other BigInt) bool {
	left, right := b.Int, other.Int
	if left == nil {
		left = big.NewInt(0)
	}
	if right == nil {
		right = big.NewInt(0)
	}
	return left.Cmp(right) > 0
}
