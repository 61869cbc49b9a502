package types

// BeaconEntry is a randomness sample from an external drand-style beacon,
// embedded in block headers. Verifying the VRF proof behind an entry is
// delegated to an external beacon/proof-verification collaborator; this
// module only stores and retrieves entries.
type BeaconEntry struct {
	Round uint64
	Data  []byte
}

// IgnoreDrandEntry is the fixed sentinel chain.Store.LatestBeaconEntry
// returns when the IGNORE_DRAND environment override is set: sequence 0,
// payload of sixteen '9' bytes (spec §6).
func IgnoreDrandEntry() BeaconEntry {
	return BeaconEntry{
		Round: 0,
		Data:  bytes16('9'),
	}
}

func bytes16(b byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = b
	}
	return out
}
