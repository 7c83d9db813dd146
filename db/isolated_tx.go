package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrTxDone is returned when a finished transaction is used again
var ErrTxDone = errors.New("transaction has already been committed or rolled back")

// IsolatedTx is a transaction pinned to one pooled connection at a fixed isolation level.
// It drives BEGIN/COMMIT/ROLLBACK itself so per-connection settings apply before BEGIN.
type IsolatedTx struct {
	conn    *sql.Conn
	level   common.IsolationLevel
	started time.Time
	reset   string // statement run on the connection before it returns to the pool

	mu   sync.Mutex
	done bool
}

// sqliteBeginStatements returns the statements that open a SQLite transaction at level.
// SQLite is serializable unless read_uncommitted is set on a shared-cache connection.
func sqliteBeginStatements(level common.IsolationLevel) ([]string, error) {
	if !level.IsValid() {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownIsolationLevel, level)
	}

	pragma := "PRAGMA read_uncommitted = 0"
	if level == common.IsolationReadUncommitted {
		pragma = "PRAGMA read_uncommitted = 1"
	}

	begin := "BEGIN DEFERRED"
	if level == common.IsolationSerializable {
		begin = "BEGIN IMMEDIATE"
	}

	return []string{pragma, begin}, nil
}

// BeginSQLite opens a transaction on a dedicated connection of db at level
func BeginSQLite(ctx context.Context, db *sql.DB, level common.IsolationLevel) (*IsolatedTx, error) {
	stmts, err := sqliteBeginStatements(level)
	if err != nil {
		return nil, err
	}
	return begin(ctx, db, level, stmts, "PRAGMA read_uncommitted = 0")
}

func begin(ctx context.Context, db *sql.DB, level common.IsolationLevel, stmts []string, reset string) (*IsolatedTx, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			release(conn, reset)
			return nil, fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}

	telemetry.ActiveIsolatedTransactions.Inc()
	log.Debug().
		Str("isolation", level.String()).
		Strs("statements", stmts).
		Msg("Isolated transaction begun")

	return &IsolatedTx{
		conn:    conn,
		level:   level,
		started: time.Now(),
		reset:   reset,
	}, nil
}

// Level returns the isolation level the transaction was opened with
func (tx *IsolatedTx) Level() common.IsolationLevel {
	return tx.level
}

func (tx *IsolatedTx) checkDone() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	return nil
}

// Exec runs a statement inside the transaction
func (tx *IsolatedTx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := tx.checkDone(); err != nil {
		return nil, err
	}
	return tx.conn.ExecContext(ctx, query, args...)
}

// Query runs a query inside the transaction
func (tx *IsolatedTx) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := tx.checkDone(); err != nil {
		return nil, err
	}
	return tx.conn.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query inside the transaction.
// Once the transaction is finished, Scan on the returned row fails with sql.ErrConnDone.
func (tx *IsolatedTx) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return tx.conn.QueryRowContext(ctx, query, args...)
}

// Commit commits the transaction and releases its connection
func (tx *IsolatedTx) Commit(ctx context.Context) error {
	return tx.finish(ctx, "COMMIT")
}

// Rollback aborts the transaction and releases its connection
func (tx *IsolatedTx) Rollback(ctx context.Context) error {
	return tx.finish(ctx, "ROLLBACK")
}

func (tx *IsolatedTx) finish(ctx context.Context, stmt string) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return ErrTxDone
	}
	tx.done = true
	tx.mu.Unlock()

	defer func() {
		telemetry.ActiveIsolatedTransactions.Dec()
		telemetry.TxnDurationSeconds.With(tx.level.String()).Observe(time.Since(tx.started).Seconds())
	}()

	_, err := tx.conn.ExecContext(ctx, stmt)
	if err != nil {
		log.Warn().Err(err).Str("isolation", tx.level.String()).Msg("Isolated transaction " + stmt + " failed")
		// Leave no half-open transaction on a pooled connection
		if stmt != "ROLLBACK" {
			if _, rbErr := tx.conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
				log.Warn().Err(rbErr).Str("isolation", tx.level.String()).Msg("Fallback ROLLBACK failed")
			}
		}
	}

	if closeErr := release(tx.conn, tx.reset); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("%s failed: %w", stmt, err)
	}
	return nil
}

// release runs reset on conn, if any, and returns it to the pool
func release(conn *sql.Conn, reset string) error {
	if reset != "" {
		if _, err := conn.ExecContext(context.Background(), reset); err != nil {
			log.Debug().Err(err).Msg("Failed to reset connection isolation")
		}
	}
	return conn.Close()
}
