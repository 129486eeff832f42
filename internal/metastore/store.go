// Package metastore implements C4 (the transactional relational store of
// the directory tree, inode table, symlinks, block index and immutable
// options) and C9 (first-use schema bootstrap and later enforcement of
// create-time options). Grounded on original_source/dedupfs.py's
// init_metastore/__get_opts_from_db, reshaped from sqlite3's Python API
// onto database/sql with the pure-Go modernc.org/sqlite driver (see
// DESIGN.md for why that driver over mattn/go-sqlite3).
package metastore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dedupfs/dedupfs/internal/logger"
)

// Options are the create-time immutable settings persisted in the
// options table, plus the two runtime toggles that may change per mount.
type Options struct {
	BlockSize         int64
	HashFunction      string
	CompressionMethod string
	Synchronous       bool
	UseTransactions   bool
}

const (
	optBlockSize    = "block_size"
	optHashFunction = "hash_function"
	optCompression  = "compression_method"
	optSynchronous  = "synchronous"
)

// immutable names whose persisted value always wins over a conflicting
// command-line argument.
var immutableOptions = []string{optBlockSize, optHashFunction, optCompression}

// Store is the Metadata Store handle: a single exclusively-locked
// connection to the relational store.
type Store struct {
	db      *sql.DB
	Options Options
}

// Open opens (or creates, on first use) the metadata store file at path.
// requested carries any command-line-supplied create-time options; on an
// existing store, conflicting immutable fields are overridden from the
// persisted values with a warning.
func Open(path string, requested Options) (store *Store, firstUse bool, err error) {
	dsn := fmt.Sprintf("file:%s?_pragma=locking_mode(exclusive)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, false, fmt.Errorf("metastore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-process exclusive lock: one connection, one writer

	var tableCount int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='options'`).Scan(&tableCount)
	if err != nil {
		db.Close()
		return nil, false, fmt.Errorf("metastore: probe schema: %w", err)
	}
	firstUse = tableCount == 0

	store = &Store{db: db}
	if firstUse {
		if err = store.bootstrap(requested); err != nil {
			db.Close()
			return nil, false, err
		}
		store.Options = requested
	} else {
		if store.Options, err = store.loadOptions(requested); err != nil {
			db.Close()
			return nil, false, err
		}
	}

	if !store.Options.Synchronous {
		logger.Warnf("synchronous durability disabled: a crash may lose recent writes")
		if _, err = db.Exec(`PRAGMA synchronous = OFF`); err != nil {
			db.Close()
			return nil, false, fmt.Errorf("metastore: set synchronous pragma: %w", err)
		}
	}

	return store, firstUse, nil
}

// bootstrap creates the schema, the root tree node and inode, and persists
// the immutable options.
func (s *Store) bootstrap(opts Options) error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("metastore: create schema: %w", err)
	}

	now := time.Now().Unix()
	uid, gid := uint32(0), uint32(0)
	if u, g, ok := processOwner(); ok {
		uid, gid = u, g
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("metastore: begin bootstrap tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO inodes (inode, nlinks, mode, uid, gid, rdev, size, atime, mtime, ctime) VALUES (?, 2, ?, ?, ?, 0, 4096, ?, ?, ?)`,
		RootInode, dirModeBits(0755), uid, gid, now, now, now)
	if err != nil {
		return fmt.Errorf("metastore: insert root inode: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO tree (id, parent_id, name, inode) VALUES (?, NULL, '', ?)`, RootTreeID, RootInode)
	if err != nil {
		return fmt.Errorf("metastore: insert root tree node: %w", err)
	}

	for name, value := range map[string]string{
		optBlockSize:    fmt.Sprintf("%d", opts.BlockSize),
		optHashFunction: opts.HashFunction,
		optCompression:  opts.CompressionMethod,
		optSynchronous:  fmt.Sprintf("%t", opts.Synchronous),
	} {
		if _, err := tx.Exec(`INSERT INTO options (name, value) VALUES (?, ?)`, name, value); err != nil {
			return fmt.Errorf("metastore: insert option %s: %w", name, err)
		}
	}

	return tx.Commit()
}

// loadOptions reads persisted options, warning about and discarding any
// conflicting immutable value the caller requested.
func (s *Store) loadOptions(requested Options) (Options, error) {
	rows, err := s.db.Query(`SELECT name, value FROM options`)
	if err != nil {
		return Options{}, fmt.Errorf("metastore: load options: %w", err)
	}
	defer rows.Close()

	persisted := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Options{}, fmt.Errorf("metastore: scan option row: %w", err)
		}
		persisted[name] = value
	}
	if err := rows.Err(); err != nil {
		return Options{}, err
	}

	out := requested
	if v, ok := persisted[optBlockSize]; ok {
		var persistedSize int64
		fmt.Sscanf(v, "%d", &persistedSize)
		if persistedSize != requested.BlockSize {
			logger.Warnf("ignoring --block-size=%d, using previously chosen block size %d", requested.BlockSize, persistedSize)
		}
		out.BlockSize = persistedSize
	}
	if v, ok := persisted[optHashFunction]; ok {
		if v != requested.HashFunction {
			logger.Warnf("ignoring --hash=%s, using previously chosen hash function %q", requested.HashFunction, v)
		}
		out.HashFunction = v
	}
	if v, ok := persisted[optCompression]; ok {
		if v != requested.CompressionMethod {
			logger.Warnf("ignoring --compress=%s, using previously chosen compression method %q", requested.CompressionMethod, v)
		}
		out.CompressionMethod = v
	}
	out.Synchronous = requested.Synchronous
	out.UseTransactions = requested.UseTransactions

	for _, name := range immutableOptions {
		if _, ok := persisted[name]; !ok {
			return Options{}, fmt.Errorf("metastore: missing immutable option %q", name)
		}
	}

	return out, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DiskUsage reports the apparent size (the sum of every live inode's
// recorded size, i.e. what `du` would show a user across all files) and
// the number of bytes the metadata store file occupies on disk, for
// --print-stats.
func (s *Store) DiskUsage() (apparentSize, metaBytes int64, err error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(inodes.size), 0) FROM tree, inodes WHERE tree.inode = inodes.inode`)
	if err = row.Scan(&apparentSize); err != nil {
		return 0, 0, fmt.Errorf("metastore: sum apparent size: %w", err)
	}

	var pageSize, pageCount int64
	if err = s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, 0, fmt.Errorf("metastore: page_size: %w", err)
	}
	if err = s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, 0, fmt.Errorf("metastore: page_count: %w", err)
	}
	return apparentSize, pageSize * pageCount, nil
}

func dirModeBits(perm uint32) uint32 {
	const sIFDIR = 0040000
	return sIFDIR | perm
}
