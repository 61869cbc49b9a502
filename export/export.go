// Package export implements the chain store's snapshot exporter: a
// streamed, checksummed, optionally compressed walk of every object
// reachable from a set of root tipsets, written out as a simple
// self-describing archive. Generalizes the teacher's CAR-based
// chain.Export/chain.Import (exercised in chain/car_test.go) onto a
// hand-rolled archive format, since this module does not carry the
// teacher's ipfs/go-car dependency (see DESIGN.md).
package export

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash"
	"io"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/klauspost/compress/zstd"
	sha256simd "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/filecoin-project/ember-chain/cell"
	"github.com/filecoin-project/ember-chain/types"
)

// walkQueueCapacity bounds the channel between the DAG-walking goroutine
// and the writing goroutine, keeping memory use flat regardless of chain
// depth: the walker blocks producing once the writer falls this far
// behind instead of buffering the whole export in memory.
const walkQueueCapacity = 1000

// ObjectSource resolves a CID to its raw stored bytes. The walk reports
// any failed lookup as a types.MissingObjectError.
type ObjectSource interface {
	GetRaw(ctx context.Context, c cid.Cid) ([]byte, error)
}

// MetaRecorder persists bookkeeping about the most recent export, e.g.
// into the chain store's meta.yaml cell. Optional: a nil MetaRecorder
// skips this step.
type MetaRecorder interface {
	RecordExport(objectCount, byteCount uint64) error
}

// CellMetaRecorder adapts a *cell.Cell[T] into a MetaRecorder via an
// update function, letting export write into whatever shape the chain
// store's meta cell actually uses without this package needing to know
// it.
type CellMetaRecorder[T any] struct {
	Cell   *cell.Cell[T]
	Update func(value T, objectCount, byteCount uint64) T
}

// RecordExport implements MetaRecorder by mutating and syncing the
// wrapped cell through Update.
func (r CellMetaRecorder[T]) RecordExport(objectCount, byteCount uint64) error {
	return r.Cell.MutateAndSync(func(v T) T {
		return r.Update(v, objectCount, byteCount)
	})
}

// archiveMagic identifies this package's archive format in the header.
var archiveMagic = [8]byte{'e', 'm', 'b', 'e', 'r', 's', 'n', 'p'}

// Options configures a single export run.
type Options struct {
	// SkipChecksum disables the sha256 digest trailer.
	SkipChecksum bool
	// Compressed wraps the archive body in a zstd stream.
	Compressed bool
	// RecentRoots bounds how many epochs of state-tree depth the walk
	// follows back through BlockHeader.Parents links before stopping;
	// every message/TxMeta/MessageArray object belonging to a header
	// still within that bound is always included in full. Zero (the
	// default) means unbounded: walk all the way back to genesis.
	RecentRoots int
	// Meta, if set, records the completed export's object/byte counts.
	// Only called after a fully successful walk.
	Meta MetaRecorder
}

type carEntry struct {
	c    cid.Cid
	data []byte
}

// Export walks every object reachable from roots and writes a
// self-describing archive to w: an 8-byte magic, a version byte, a count
// of roots and their CIDs, then each (cid, length, bytes) entry, in walk
// order. Unless opts.SkipChecksum, every byte of that body is also fed to
// a sha256 digest whose sum is appended as a final length-prefixed
// trailer; if opts.Compressed, the body (but not the trailer) is zstd
// compressed. Returns the number of distinct objects written.
func Export(ctx context.Context, roots []cid.Cid, src ObjectSource, w io.Writer, opts Options) (objectCount uint64, err error) {
	bw := bufio.NewWriter(w)

	var digest hash.Hash
	var body io.Writer = bw
	if !opts.SkipChecksum {
		digest = sha256simd.New()
		body = io.MultiWriter(bw, digest)
	}

	var zw *zstd.Encoder
	if opts.Compressed {
		zw, err = zstd.NewWriter(body)
		if err != nil {
			return 0, errors.Wrap(err, "constructing zstd writer")
		}
		body = zw
	}

	if err := writeHeader(body, roots); err != nil {
		return 0, err
	}

	entries := make(chan carEntry, walkQueueCapacity)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(entries)
		return walk(ctx, roots, src, entries, opts.RecentRoots)
	})

	var written, bytesWritten uint64
	g.Go(func() error {
		for entry := range entries {
			if err := writeEntry(body, entry); err != nil {
				return err
			}
			written++
			bytesWritten += uint64(len(entry.data))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}

	if zw != nil {
		// Close before the trailer so a decoder sees a clean end of the
		// compressed stream ahead of the (always uncompressed) digest.
		if err := zw.Close(); err != nil {
			return 0, errors.Wrap(err, "closing zstd writer")
		}
	}

	if !opts.SkipChecksum {
		sum := digest.Sum(nil)
		if err := binary.Write(bw, binary.BigEndian, uint32(len(sum))); err != nil {
			return 0, err
		}
		if _, err := bw.Write(sum); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, errors.Wrap(err, "flushing export writer")
	}

	if opts.Meta != nil {
		if err := opts.Meta.RecordExport(written, bytesWritten); err != nil {
			return written, errors.Wrap(err, "recording export metadata")
		}
	}
	return written, nil
}

func writeHeader(w io.Writer, roots []cid.Cid) error {
	if _, err := w.Write(archiveMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil { // format version
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(roots))); err != nil {
		return err
	}
	for _, c := range roots {
		if err := writeBytes(w, c.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w io.Writer, e carEntry) error {
	if err := writeBytes(w, e.c.Bytes()); err != nil {
		return err
	}
	return writeBytes(w, e.data)
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// walkItem is a CID queued for the walk together with how many epochs of
// BlockHeader.Parents links it sits behind a root.
type walkItem struct {
	c     cid.Cid
	depth int
}

// walk performs a breadth-first traversal of every CID reachable from
// roots, sending each distinct object to entries exactly once. A CID
// present in the walk but absent from src is a MissingObjectError, not a
// skip: the export never silently produces a partial snapshot.
//
// recentRoots bounds how many epochs of BlockHeader.Parents links the
// walk follows back from a root before it stops descending further into
// history; zero means unbounded. The bound only ever applies to Parents
// edges (crossing an epoch) — every message/TxMeta/MessageArray object
// belonging to a header still within the bound is always walked in full,
// since those aren't state-tree depth, they're that header's own payload.
//
// The object graph this module persists has a small, fixed shape
// (BlockHeader -> TxMeta -> MessageArray -> leaf messages), so rather
// than depend on a generic IPLD link-scanner this walk tries each known
// shape in turn via cbor.DecodeInto and follows whichever one matches.
// An object matching none of them (a message, a receipt) is a leaf.
func walk(ctx context.Context, roots []cid.Cid, src ObjectSource, entries chan<- carEntry, recentRoots int) error {
	seen := make(map[cid.Cid]struct{}, len(roots))
	queue := make([]walkItem, 0, len(roots))
	for _, r := range roots {
		queue = append(queue, walkItem{c: r, depth: 0})
	}

	enqueue := func(c cid.Cid, depth int) {
		if !c.Defined() {
			return
		}
		if _, dup := seen[c]; !dup {
			queue = append(queue, walkItem{c: c, depth: depth})
		}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if _, dup := seen[item.c]; dup {
			continue
		}
		seen[item.c] = struct{}{}

		data, err := src.GetRaw(ctx, item.c)
		if err != nil {
			return types.NewMissingObjectError(item.c)
		}

		select {
		case entries <- carEntry{c: item.c, data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}

		sameDepth, parents := childLinks(data)
		for _, child := range sameDepth {
			enqueue(child, item.depth)
		}
		if recentRoots <= 0 || item.depth+1 <= recentRoots {
			for _, child := range parents {
				enqueue(child, item.depth+1)
			}
		}
	}
	return nil
}

// childLinks returns the CIDs the raw CBOR object directly references,
// split into same-epoch children (a header's own message root, a TxMeta's
// BLS/SECP roots, a MessageArray's messages) and parent links (a header's
// Parents, which cross into the prior epoch), trying each persisted shape
// this module knows about in turn. Decode failures are expected (most
// objects are leaves) and silently mean "no children of this shape".
func childLinks(data []byte) (sameDepth, parents []cid.Cid) {
	var header types.BlockHeader
	if err := cbor.DecodeInto(data, &header); err == nil && header.Messages.Defined() {
		return []cid.Cid{header.Messages}, append([]cid.Cid(nil), header.Parents...)
	}

	var meta types.TxMeta
	if err := cbor.DecodeInto(data, &meta); err == nil && (meta.BLSRoot.Defined() || meta.SECPRoot.Defined()) {
		var links []cid.Cid
		if meta.BLSRoot.Defined() {
			links = append(links, meta.BLSRoot)
		}
		if meta.SECPRoot.Defined() {
			links = append(links, meta.SECPRoot)
		}
		return links, nil
	}

	var arr types.MessageArray
	if err := cbor.DecodeInto(data, &arr); err == nil {
		return arr.Cids, nil
	}

	return nil, nil
}
