// Package store adapts the generic content-addressed block storage
// (go-ipfs-blockstore over a go-datastore) to the typed object
// read/write API the chain store and exporter use: put a CBOR-encodable
// Go value in, get its CID back; take a CID, get the decoded value back.
package store

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-blockservice"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	badgerds "github.com/ipfs/go-ds-badger"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	offline "github.com/ipfs/go-ipfs-exchange-offline"
	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/types"
)

// maxBulkPut bounds how many blocks a single PutMany call below us will
// ever be asked to batch, keeping any one write transaction small.
const maxBulkPut = 256

// Store is the chain store's content-addressed object store: a
// go-ipfs-blockstore, plus typed helpers that marshal/unmarshal through
// go-ipld-cbor and address objects the same way types.ObjectCid does.
type Store struct {
	bs  blockstore.Blockstore
	bsv blockservice.BlockService
}

// OpenBadger opens (creating if necessary) a badger-backed datastore at
// dir and wraps it as a Store. Badger is the teacher's persistent
// datastore of choice for a single-process node.
func OpenBadger(dir string) (*Store, error) {
	ds, err := badgerds.NewDatastore(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger datastore at %s", dir)
	}
	return NewStore(ds), nil
}

// NewStore wraps an arbitrary batching datastore as a Store. Exposed
// separately from OpenBadger so tests can back it with an in-memory
// datastore.
func NewStore(ds datastore.Batching) *Store {
	bs := blockstore.NewBlockstore(ds)
	bsv := blockservice.New(bs, offline.Exchange(bs))
	return &Store{bs: bs, bsv: bsv}
}

// Blockstore exposes the underlying go-ipfs-blockstore for components
// (the exporter, the fetcher) that need the untyped block API directly.
func (s *Store) Blockstore() blockstore.Blockstore { return s.bs }

// BlockService exposes the go-blockservice wrapper over the offline
// exchange. The net fetcher is constructed with it but does not read
// blocks through it.
func (s *Store) BlockService() blockservice.BlockService { return s.bsv }

// PutObj CBOR-encodes obj, stores it keyed by its own content address,
// and returns that address.
func (s *Store) PutObj(ctx context.Context, obj interface{}) (cid.Cid, error) {
	raw, err := cbor.DumpObject(obj)
	if err != nil {
		return cid.Undef, errors.Wrap(err, "encoding object")
	}
	c, err := types.ObjectCid(obj)
	if err != nil {
		return cid.Undef, err
	}
	blk, err := blocks.NewBlockWithCid(raw, c)
	if err != nil {
		return cid.Undef, errors.Wrap(err, "constructing block")
	}
	if err := s.bs.Put(blk); err != nil {
		return cid.Undef, errors.Wrapf(err, "writing block %s", c)
	}
	return c, nil
}

// GetObj fetches the block at c and decodes it into out, which must be a
// pointer.
func (s *Store) GetObj(ctx context.Context, c cid.Cid, out interface{}) error {
	blk, err := s.bs.Get(c)
	if err != nil {
		return types.NewMissingObjectError(c)
	}
	if err := cbor.DecodeInto(blk.RawData(), out); err != nil {
		return errors.Wrapf(types.ErrDecode, "decoding %s: %s", c, err)
	}
	return nil
}

// GetRaw fetches the raw, still-encoded bytes stored at c, without
// attempting to decode them into any particular Go type. Used by the
// snapshot exporter, which only needs to copy bytes and discover child
// links, never the decoded value itself.
func (s *Store) GetRaw(ctx context.Context, c cid.Cid) ([]byte, error) {
	blk, err := s.bs.Get(c)
	if err != nil {
		return nil, types.NewMissingObjectError(c)
	}
	return blk.RawData(), nil
}

// Has reports whether c is present in the store.
func (s *Store) Has(c cid.Cid) (bool, error) {
	return s.bs.Has(c)
}

// PutMany encodes and stores every obj in objs, chunking the underlying
// PutMany calls at maxBulkPut so any single datastore transaction stays
// bounded regardless of how many objects the caller hands in.
func (s *Store) PutMany(ctx context.Context, objs []interface{}) ([]cid.Cid, error) {
	cids := make([]cid.Cid, 0, len(objs))
	batch := make([]blocks.Block, 0, maxBulkPut)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.bs.PutMany(batch); err != nil {
			return errors.Wrap(err, "bulk writing blocks")
		}
		batch = batch[:0]
		return nil
	}

	for _, obj := range objs {
		raw, err := cbor.DumpObject(obj)
		if err != nil {
			return nil, errors.Wrap(err, "encoding object")
		}
		c, err := types.ObjectCid(obj)
		if err != nil {
			return nil, err
		}
		blk, err := blocks.NewBlockWithCid(raw, c)
		if err != nil {
			return nil, errors.Wrap(err, "constructing block")
		}
		batch = append(batch, blk)
		cids = append(cids, c)
		if len(batch) == maxBulkPut {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return cids, nil
}
