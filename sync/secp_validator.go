package sync

import (
	"crypto/sha256"

	secp256k1 "github.com/ipsn/go-secp256k1"
	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/types"
)

// SECPValidator extends DefaultValidator's message-root check with
// signature verification over every SECP-path message: the signature
// must recover to the public key committing to the message's declared
// sender. Election-proof/VRF verification remains out of scope (Non-goal:
// no end-to-end proof verification); this only covers the one signature
// this module can check without a full actor/account-state model (the
// recovered pubkey's uncompressed bytes standing in directly for the
// sender's public-key address, since this module has no account/ID
// address resolution layer).
type SECPValidator struct {
	DefaultValidator
}

// CheckMessageRoots runs the embedded DefaultValidator check, then
// verifies every SECP message's signature.
func (v SECPValidator) CheckMessageRoots(header *types.BlockHeader, full *types.FullBlock) error {
	if err := v.DefaultValidator.CheckMessageRoots(header, full); err != nil {
		return err
	}
	for _, sm := range full.SECPMessages {
		if err := verifySECPSignature(sm); err != nil {
			return err
		}
	}
	return nil
}

// verifySECPSignature checks that sm.Signature is a valid 65-byte
// recoverable secp256k1 signature over sm.Message's CID bytes, and that
// the recovered public key matches sm.Message.From.
func verifySECPSignature(sm *types.SignedMessage) error {
	if len(sm.Signature) != 65 {
		return errors.Errorf("secp signature must be 65 bytes, got %d", len(sm.Signature))
	}

	c, err := sm.Message.Cid()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(c.Bytes())

	pubkey, err := secp256k1.RecoverPubkey(digest[:], sm.Signature)
	if err != nil {
		return errors.Wrap(err, "recovering secp256k1 public key")
	}

	if !sm.Message.FromAddress().Equals(types.NewAddress(pubkey)) {
		return errors.New("secp signature does not recover to message sender")
	}
	return nil
}
