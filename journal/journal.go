// Package journal provides a minimal event-recording facility: the chain
// store writes its head changes (apply and revert events, including those
// of a reorg) here so an operator can replay "what happened" without
// re-deriving it from logs. The syncer does not write to a journal.
package journal

import (
	"sync"

	"github.com/cskr/pubsub"

	"github.com/filecoin-project/ember-chain/clock"
)

// Writer defines an interface for recording events and their metadata
type Writer interface {
	// Write records an operation and its metadata to a Journal accepting variadic key-value
	// pairs.
	Write(event string, kvs ...interface{})
}

// Journal defines an interface for creating Journals with a topic.
type Journal interface {
	// Topic returns a Writer that records events for a topic.
	Topic(topic string) Writer
}

// NewNoopJournal returns a Journal that discards everything written to it.
func NewNoopJournal() Journal { return &NoopJournal{} }

// NoopJournal discards all events.
type NoopJournal struct{}

// Topic returns a Writer that discards everything written to it.
func (nj *NoopJournal) Topic(topic string) Writer { return &NoopWriter{} }

// NoopWriter discards all events.
type NoopWriter struct{}

// Write discards event.
func (nw *NoopWriter) Write(event string, kvs ...interface{}) {}

// Entry is a single recorded journal event.
type Entry struct {
	Stamp int64
	Topic string
	Event string
	Kvs   map[string]interface{}
}

// MemoryJournal keeps every written entry in memory, ordered by arrival;
// used by tests that assert on exactly what was recorded.
type MemoryJournal struct {
	clk clock.Clock

	mu      sync.Mutex
	entries []*Entry
}

// NewInMemoryJournal builds a MemoryJournal stamping entries with clk.
func NewInMemoryJournal(clk clock.Clock) *MemoryJournal {
	return &MemoryJournal{clk: clk}
}

// Topic returns a MemoryWriter appending into mj's shared entry log.
func (mj *MemoryJournal) Topic(topic string) Writer {
	return &MemoryWriter{journal: mj, topic: topic}
}

// Entries returns a snapshot of every entry recorded so far, across all
// topics.
func (mj *MemoryJournal) Entries() []*Entry {
	mj.mu.Lock()
	defer mj.mu.Unlock()
	out := make([]*Entry, len(mj.entries))
	copy(out, mj.entries)
	return out
}

// MemoryWriter is the Writer MemoryJournal.Topic returns.
type MemoryWriter struct {
	journal *MemoryJournal
	topic   string
	entries []*Entry
}

// Write appends event to both the writer's own topic-scoped slice and the
// parent journal's shared log.
func (mw *MemoryWriter) Write(event string, kvs ...interface{}) {
	kvMap := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		kvMap[key] = kvs[i+1]
	}
	entry := &Entry{
		Stamp: mw.journal.clk.Now().Unix(),
		Topic: mw.topic,
		Event: event,
		Kvs:   kvMap,
	}

	mw.journal.mu.Lock()
	mw.journal.entries = append(mw.journal.entries, entry)
	mw.journal.mu.Unlock()

	mw.entries = append(mw.entries, entry)
}

// PubsubJournal fans written events out over a cskr/pubsub bus, one topic
// per journal topic, so an operator-facing tool can subscribe live.
// Delivery is not lossy: once a subscriber stops draining its buffered
// channel the bus stalls, and Write blocks as soon as the bus's own
// buffer fills.
type PubsubJournal struct {
	clk clock.Clock
	ps  *pubsub.PubSub
}

// NewPubsubJournal builds a PubsubJournal whose subscriber channels are
// buffered to capacity.
func NewPubsubJournal(clk clock.Clock, capacity int) *PubsubJournal {
	return &PubsubJournal{clk: clk, ps: pubsub.New(capacity)}
}

// Topic returns a Writer that publishes onto the pubsub bus under topic.
func (pj *PubsubJournal) Topic(topic string) Writer {
	return &pubsubWriter{journal: pj, topic: topic}
}

// Subscribe returns a channel of *Entry for topic, following cskr/pubsub's
// usual subscribe/unsubscribe contract.
func (pj *PubsubJournal) Subscribe(topic string) chan interface{} {
	return pj.ps.Sub(topic)
}

// Unsubscribe removes ch from topic's subscriber set.
func (pj *PubsubJournal) Unsubscribe(ch chan interface{}, topic string) {
	pj.ps.Unsub(ch, topic)
}

// Shutdown closes every subscriber channel and stops the bus.
func (pj *PubsubJournal) Shutdown() {
	pj.ps.Shutdown()
}

type pubsubWriter struct {
	journal *PubsubJournal
	topic   string
}

func (w *pubsubWriter) Write(event string, kvs ...interface{}) {
	kvMap := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		kvMap[key] = kvs[i+1]
	}
	w.journal.ps.Pub(&Entry{
		Stamp: w.journal.clk.Now().Unix(),
		Topic: w.topic,
		Event: event,
		Kvs:   kvMap,
	}, w.topic)
}
