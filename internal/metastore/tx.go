package metastore

import (
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting Tx run
// statements either inside a real transaction or, when use_transactions is
// disabled, directly against the connection in sqlite's native
// autocommit-per-statement mode (mirroring the original's
// isolation_level=None behaviour).
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// Tx is a single callback's transaction boundary. A nested Tx
// (used by rename's sub-operations and the "nested operation"
// glossary entry) shares its parent's execer but suppresses Commit and
// Rollback, letting the outer Tx decide.
type Tx struct {
	conn   execer
	sqlTx  *sql.Tx // non-nil only when use_transactions is enabled
	nested bool
}

// Begin starts a new top-level transaction. When use_transactions is
// false (the --no-transactions flag), no real transaction is opened and
// Commit/Rollback are no-ops.
func (s *Store) Begin() (*Tx, error) {
	if !s.Options.UseTransactions {
		return &Tx{conn: s.db}, nil
	}
	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("metastore: begin: %w", err)
	}
	return &Tx{conn: sqlTx, sqlTx: sqlTx}, nil
}

// Nested returns a sub-transaction sharing tx's connection, whose
// Commit/Rollback are no-ops: only the outer Tx may decide the outcome.
func (tx *Tx) Nested() *Tx {
	return &Tx{conn: tx.conn, sqlTx: tx.sqlTx, nested: true}
}

// Commit commits the transaction. A no-op for a nested Tx or when
// use_transactions is disabled.
func (tx *Tx) Commit() error {
	if tx.nested || tx.sqlTx == nil {
		return nil
	}
	return tx.sqlTx.Commit()
}

// Rollback rolls back the transaction. A no-op for a nested Tx or when
// use_transactions is disabled; calling sql.Tx.Rollback after a successful
// Commit is itself a harmless no-op, so top-level callers can always
// `defer tx.Rollback()` right after Begin.
func (tx *Tx) Rollback() error {
	if tx.nested || tx.sqlTx == nil {
		return nil
	}
	return tx.sqlTx.Rollback()
}

func (tx *Tx) exec(query string, args ...any) (sql.Result, error) {
	return tx.conn.Exec(query, args...)
}

func (tx *Tx) queryRow(query string, args ...any) *sql.Row {
	return tx.conn.QueryRow(query, args...)
}

func (tx *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return tx.conn.Query(query, args...)
}
