package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/filecoin-project/ember-chain/clock"
)

func TestSimpleInMemoryJournal(t *testing.T) {
	mj := NewInMemoryJournal(clock.NewFake(time.Unix(1234567890, 0)))
	topicJ := mj.Topic("testing")
	topicJ.Write("event1", "foo", "bar")

	memoryWriter, ok := topicJ.(*MemoryWriter)
	assert.True(t, ok)
	assert.Equal(t, 1, len(memoryWriter.entries))
	assert.Equal(t, "testing", memoryWriter.topic)

	topicJ.Write("event2", "number", 42)
	assert.Equal(t, 2, len(memoryWriter.entries))

	obj := struct {
		Name string
		Arg  int
	}{"bob",
		42,
	}
	topicJ.Write("event3", "object", obj, "name", "bob", "age", 42)
	assert.Equal(t, 3, len(memoryWriter.entries))

	assert.Equal(t, "bar", memoryWriter.entries[0].Kvs["foo"])
	assert.Equal(t, 42, memoryWriter.entries[1].Kvs["number"])
	assert.Equal(t, obj, memoryWriter.entries[2].Kvs["object"])
	assert.Equal(t, "bob", memoryWriter.entries[2].Kvs["name"])
	assert.Equal(t, 42, memoryWriter.entries[2].Kvs["age"])

	// entries recorded against the shared journal, not just the
	// topic-local writer.
	assert.Equal(t, 3, len(mj.Entries()))
}

func TestPubsubJournal(t *testing.T) {
	pj := NewPubsubJournal(clock.NewFake(time.Unix(1234567890, 0)), 4)
	defer pj.Shutdown()

	sub := pj.Subscribe("headchange")
	defer pj.Unsubscribe(sub, "headchange")

	pj.Topic("headchange").Write("apply", "height", 100)

	select {
	case raw := <-sub:
		entry, ok := raw.(*Entry)
		assert.True(t, ok)
		assert.Equal(t, "headchange", entry.Topic)
		assert.Equal(t, "apply", entry.Event)
		assert.Equal(t, 100, entry.Kvs["height"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published entry")
	}
}

func TestNoopJournal(t *testing.T) {
	nj := NewNoopJournal()
	// Write must not panic even though nothing records it.
	nj.Topic("anything").Write("event", "k", "v")
}
