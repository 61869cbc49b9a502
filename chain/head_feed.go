package chain

import (
	"sync"

	"github.com/filecoin-project/ember-chain/types"
)

// headChangeCapacity bounds each subscriber's channel. The teacher uses
// cskr/pubsub for its head-change feed elsewhere in this codebase, but
// cskr/pubsub's Pub blocks the publisher when a subscriber channel is
// full — unacceptable here, since a slow RPC subscriber must never stall
// block validation. headFeed instead drops (never blocks) when a
// subscriber is behind; see DESIGN.md.
const headChangeCapacity = 200

// HeadChangeType identifies what kind of head-change event an entry
// describes.
type HeadChangeType int

const (
	// HCCurrent is emitted once per subscription, carrying the head in
	// effect at the moment of subscribing.
	HCCurrent HeadChangeType = iota
	// HCApply is emitted for each tipset newly added to the head chain.
	HCApply
	// HCRevert is emitted for each tipset removed from the head chain
	// during a reorg, in the order they are rolled back (highest
	// first).
	HCRevert
)

// HeadChange is a single entry in the head-change feed.
type HeadChange struct {
	Type HeadChangeType
	Val  types.TipSet
}

// headFeed fans HeadChange events out to any number of subscribers
// without ever blocking the publisher: a subscriber whose channel is full
// simply misses entries until it catches up, rather than stalling chain
// processing.
type headFeed struct {
	mu   sync.Mutex
	subs map[chan HeadChange]struct{}
}

func newHeadFeed() *headFeed {
	return &headFeed{subs: make(map[chan HeadChange]struct{})}
}

// Subscribe returns a channel that immediately receives an HCCurrent
// entry for current, then every subsequent Apply/Revert published.
func (f *headFeed) Subscribe(current types.TipSet) <-chan HeadChange {
	ch := make(chan HeadChange, headChangeCapacity)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	if current.Defined() {
		ch <- HeadChange{Type: HCCurrent, Val: current}
	}
	return ch
}

// Unsubscribe removes and closes ch. Safe to call more than once.
func (f *headFeed) Unsubscribe(ch <-chan HeadChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.subs {
		if c == ch {
			delete(f.subs, c)
			close(c)
			return
		}
	}
}

// publish fans out entry to every live subscriber, dropping it for any
// subscriber whose channel is currently full.
func (f *headFeed) publish(entry HeadChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
