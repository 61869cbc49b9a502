package types

import "encoding/hex"

// Address is an opaque account identifier. Address derivation, network
// prefixes and checksums are the concern of an external wallet/address
// library; this module only needs addresses to be comparable and
// serializable, so a raw byte string suffices for the chain-store and
// chain-sync surface described here.
type Address struct {
	payload []byte
}

// UndefAddress is the zero value, used for miner-less test fixtures.
var UndefAddress = Address{}

// NewAddress wraps raw bytes as an Address.
func NewAddress(b []byte) Address {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Address{payload: cp}
}

// Empty reports whether the address carries no payload.
func (a Address) Empty() bool {
	return len(a.payload) == 0
}

// Bytes returns the address's raw payload.
func (a Address) Bytes() []byte {
	return a.payload
}

// String renders a hex form suitable for logs; not a real Filecoin address
// encoding (that belongs to the address library this module delegates to).
func (a Address) String() string {
	if a.Empty() {
		return "<empty>"
	}
	return "f" + hex.EncodeToString(a.payload)
}

// Equals compares two addresses by payload.
func (a Address) Equals(o Address) bool {
	if len(a.payload) != len(o.payload) {
		return false
	}
	for i := range a.payload {
		if a.payload[i] != o.payload[i] {
			return false
		}
	}
	return true
}
