package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds optimistic-transaction retries on ErrConflict.
const maxConflictRetries = 16

// BadgerStore is an embedded key-value implementation of Store[S] backed by
// BadgerDB.
//
// Keys:
//   - "<prefix>/head/<thread>"      last sequence number (8-byte big endian)
//   - "<prefix>/cp/<thread>/<seq>"  checkpoint, seq as 8-byte big endian so
//     keys sort in sequence order
//
// Appends read and bump the head key inside one transaction. Badger's
// conflict detection aborts one of two concurrent appends to the same
// thread; the loser retries. Different threads touch different keys and
// never conflict.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type BadgerStore[S any] struct {
	db     *badger.DB
	prefix string
	codec  codec
	owned  bool
}

// NewBadgerStore opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
//
// Example:
//
//	st, err := store.NewBadgerStore[graph.State]("./data/checkpoints")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewBadgerStore[S any](dir string, opts ...Option) (*BadgerStore[S], error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	st := NewBadgerStoreFromDB[S](db, opts...)
	st.owned = true
	return st, nil
}

// NewBadgerStoreFromDB wraps an already opened database. Close does not
// close a database that the store did not open.
func NewBadgerStoreFromDB[S any](db *badger.DB, opts ...Option) *BadgerStore[S] {
	o := buildOptions(opts)
	return &BadgerStore[S]{
		db:     db,
		prefix: o.keyPrefix,
		codec:  codec{compress: o.compress},
	}
}

func (b *BadgerStore[S]) headKey(threadID string) []byte {
	return []byte(b.prefix + "/head/" + threadID)
}

func (b *BadgerStore[S]) threadPrefix(threadID string) []byte {
	return []byte(b.prefix + "/cp/" + threadID + "/")
}

func (b *BadgerStore[S]) cpKey(threadID string, seq int64) []byte {
	key := b.threadPrefix(threadID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return append(key, buf[:]...)
}

// Append implements Store.
func (b *BadgerStore[S]) Append(ctx context.Context, threadID string, cp Checkpoint[S]) (int64, error) {
	var seq int64
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		err := b.db.Update(func(txn *badger.Txn) error {
			seq = 0
			item, err := txn.Get(b.headKey(threadID))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				head, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				seq = int64(binary.BigEndian.Uint64(head)) + 1
			}

			data, err := b.codec.encode(prepare(threadID, seq, cp))
			if err != nil {
				return err
			}
			if err := txn.Set(b.cpKey(threadID, seq), data); err != nil {
				return err
			}
			var head [8]byte
			binary.BigEndian.PutUint64(head[:], uint64(seq))
			return txn.Set(b.headKey(threadID), head[:])
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to append checkpoint: %w", err)
		}
		return seq, nil
	}
	return 0, fmt.Errorf("failed to append checkpoint: %w", badger.ErrConflict)
}

// Latest implements Store.
func (b *BadgerStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint[S]{}, err
	}

	var cp Checkpoint[S]
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.headKey(threadID))
		if err != nil {
			return err
		}
		head, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(b.cpKey(threadID, int64(binary.BigEndian.Uint64(head))))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return b.codec.decode(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Store.
func (b *BadgerStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Checkpoint[S], 0)
	prefix := b.threadPrefix(threadID)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp Checkpoint[S]
			if err := it.Item().Value(func(val []byte) error {
				return b.codec.decode(val, &cp)
			}); err != nil {
				return err
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return out, nil
}

// Close closes the database if the store opened it.
func (b *BadgerStore[S]) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
