// Package blockstore implements C3: a durable mapping from content digest
// to compressed block bytes. Bbolt gives us exactly the digest -> bytes
// shape this needs, the same way rclone, moby and Auriora-OneMount
// use it elsewhere in the example pack for embedded local storage.
package blockstore

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var blocksBucket = []byte("blocks")

// Store is the data-plane entity: digest -> compressed bytes.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the block store file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blockstore: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the bytes stored under digest, or ok=false if absent.
func (s *Store) Get(digest []byte) (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(digest)
		if v != nil {
			ok = true
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return
}

// Put stores data under digest. Last-writer-wins; by construction (see the
// flush-time hash-collision check) an existing digest is never
// overwritten with different bytes.
func (s *Store) Put(digest, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(digest, data)
	})
}

// Delete removes the block stored under digest, if any.
func (s *Store) Delete(digest []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Delete(digest)
	})
}

// Size returns the number of distinct blocks and their total physical
// (compressed, on-disk) byte count, for --print-stats.
func (s *Store) Size() (count int, physicalBytes int64, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		return b.ForEach(func(k, v []byte) error {
			count++
			physicalBytes += int64(len(v))
			return nil
		})
	})
	return
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
