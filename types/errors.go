package types

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
)

// ErrNotFound indicates that a CID referenced by the caller is absent from
// the blockstore.
var ErrNotFound = errors.New("not found")

// ErrUndefinedKey indicates that a CID used as an index (e.g. a TxMeta
// root) does not resolve to any known object.
var ErrUndefinedKey = errors.New("undefined key")

// ErrDecode indicates an object was present but failed to parse.
var ErrDecode = errors.New("decode error")

// ErrInvalidTipSet indicates headers offered to a tipset disagree on epoch
// or parents.
var ErrInvalidTipSet = errors.New("invalid tipset")

// ErrInvalidRoots indicates a recomputed message root disagrees with the
// header that claims it.
var ErrInvalidRoots = errors.New("invalid message roots")

// ErrNoBlocks indicates an empty tipset was offered where one was required.
var ErrNoBlocks = errors.New("no blocks")

// ErrPeerTimeout indicates a network fetch exceeded its deadline.
var ErrPeerTimeout = errors.New("peer request timed out")

// ErrInvalidRequest indicates a caller-supplied argument is structurally
// invalid for the operation, e.g. a height above the reference tipset's
// own epoch.
var ErrInvalidRequest = errors.New("invalid request")

// NotFoundError wraps ErrNotFound with the offending CID.
type NotFoundError struct {
	Key cid.Cid
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Key)
}

// Is reports whether target is ErrNotFound, so callers can keep using
// errors.Is(err, types.ErrNotFound) regardless of which CID is involved.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError builds a NotFoundError for key.
func NewNotFoundError(key cid.Cid) error {
	return &NotFoundError{Key: key}
}

// BadBlockError records that cid was quarantined with reason during a
// chain walk, per the bad-block cache contract in the chain syncer.
type BadBlockError struct {
	Cid    cid.Cid
	Reason string
}

func (e *BadBlockError) Error() string {
	return fmt.Sprintf("chain contains bad block %s: %s", e.Cid, e.Reason)
}

// NewBadBlockError builds a BadBlockError.
func NewBadBlockError(c cid.Cid, reason string) error {
	return &BadBlockError{Cid: c, Reason: reason}
}

// MissingObjectError is raised by the snapshot exporter when a reachable
// CID cannot be loaded from the blockstore; the exporter never synthesizes
// or skips missing objects.
type MissingObjectError struct {
	Cid cid.Cid
}

func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("missing object during export: %s", e.Cid)
}

// NewMissingObjectError builds a MissingObjectError, typically by
// converting a blockstore ErrNotFound encountered mid-walk.
func NewMissingObjectError(c cid.Cid) error {
	return &MissingObjectError{Cid: c}
}
