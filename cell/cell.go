// Package cell implements small, file-backed durable values: each Cell
// holds exactly one encoded value (a genesis CID, a head tipset key, a
// validated-blocks set, human-readable metadata, ...) and keeps the
// on-disk copy and the in-memory copy in sync by always writing through a
// temp-file-then-rename so a crash mid-write can never leave a
// half-written file behind. Binary cells (genesis, head,
// validated-blocks) encode with the object store's canonical CBOR
// encoding via WithCBOREncoding; meta.yaml, the one human-readable cell,
// uses the default YAML encoding.
package cell

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/filecoin-project/ember-chain/clock"
)

// codec selects how a Cell marshals its value to and from disk.
type codec int

const (
	codecYAML codec = iota
	codecCBOR
)

// Cell is a generic, mutex-guarded, file-backed value of type T.
//
// Reads never touch disk: Value and With use the in-memory copy under a
// read lock. Writes go through MutateAndSync (or Sync), which holds the
// write lock across the full marshal-and-rename so concurrent mutators
// can never interleave.
type Cell[T any] struct {
	path string
	clk  clock.Clock

	// minSyncPeriod debounces consecutive syncs: a mutation less than
	// minSyncPeriod after the previous sync updates the in-memory
	// value but defers the disk write to the next sync that clears
	// the debounce window, or to Sync called explicitly.
	minSyncPeriod int64 // nanoseconds; 0 disables debouncing

	codec codec

	mu       sync.RWMutex
	value    T
	lastSync int64 // UnixNano of last successful disk write
	dirty    bool
}

// Option configures a Cell at construction time.
type Option[T any] func(*Cell[T])

// WithMinSyncPeriod debounces writes: a MutateAndSync less than d after
// the previous disk write only updates the in-memory value and marks the
// cell dirty, deferring the file write until a later MutateAndSync clears
// the debounce window or Sync is called.
func WithMinSyncPeriod[T any](d int64) Option[T] {
	return func(c *Cell[T]) { c.minSyncPeriod = d }
}

// WithCBOREncoding switches the cell from the default YAML encoding to
// the object store's canonical CBOR encoding (the same go-ipld-cbor
// reflection codec store.Store uses for blockstore objects). Used for the
// binary cells (GENESIS, HEAD, VALIDATED_BLOCKS); meta.yaml is the one
// cell left in the default human-readable YAML form.
func WithCBOREncoding[T any]() Option[T] {
	return func(c *Cell[T]) { c.codec = codecCBOR }
}

// Load opens the cell backed by path, decoding its current contents. If
// path does not exist, the cell is initialized to initial and immediately
// synced to disk so a subsequent Load finds it.
func Load[T any](clk clock.Clock, path string, initial T, opts ...Option[T]) (*Cell[T], error) {
	c := &Cell[T]{path: path, clk: clk, value: initial}
	for _, opt := range opts {
		opt(c)
	}

	raw, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if werr := c.writeLocked(); werr != nil {
			return nil, errors.Wrapf(werr, "initializing cell at %s", path)
		}
		return c, nil
	case err != nil:
		return nil, errors.Wrapf(err, "reading cell at %s", path)
	}

	var v T
	if err := c.unmarshal(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "decoding cell at %s", path)
	}
	c.value = v
	c.lastSync = clk.Now().UnixNano()
	return c, nil
}

// Value returns the cell's current in-memory value.
func (c *Cell[T]) Value() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// With runs fn against the current value without mutating it, holding the
// read lock for fn's duration. Useful for reading a large value without a
// copy.
func (c *Cell[T]) With(fn func(T)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.value)
}

// MutateAndSync replaces the cell's value by calling fn with the current
// value, then persists the result to disk (subject to the debounce
// configured by WithMinSyncPeriod). fn's return value becomes the new
// in-memory value regardless of whether the disk write happens
// immediately or is deferred.
func (c *Cell[T]) MutateAndSync(fn func(T) T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = fn(c.value)
	c.dirty = true

	if c.minSyncPeriod > 0 {
		now := c.clk.Now().UnixNano()
		if now-c.lastSync < c.minSyncPeriod {
			return nil
		}
	}
	return c.writeLocked()
}

// Sync forces a disk write of the current value regardless of the
// debounce window, if the cell is dirty.
func (c *Cell[T]) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	return c.writeLocked()
}

// writeLocked marshals c.value and atomically replaces the backing file.
// Callers must hold c.mu for writing.
func (c *Cell[T]) writeLocked() error {
	raw, err := c.marshal(c.value)
	if err != nil {
		return errors.Wrapf(err, "encoding cell for %s", c.path)
	}

	dir := filepath.Dir(c.path)
	tmp, err := ioutil.TempFile(dir, ".cell-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing temp file %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "fsyncing temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing temp file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpPath, c.path)
	}

	c.lastSync = c.clk.Now().UnixNano()
	c.dirty = false
	return nil
}

// marshal encodes v per the cell's configured codec.
func (c *Cell[T]) marshal(v T) ([]byte, error) {
	if c.codec == codecCBOR {
		return cbor.DumpObject(v)
	}
	return yaml.Marshal(v)
}

// unmarshal decodes raw into out per the cell's configured codec.
func (c *Cell[T]) unmarshal(raw []byte, out *T) error {
	if c.codec == codecCBOR {
		return cbor.DecodeInto(raw, out)
	}
	return yaml.Unmarshal(raw, out)
}
