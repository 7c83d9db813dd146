package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/protocol"
)

// mysqlIsolationParam is the session variable go-sql-driver/mysql sets on connect
const mysqlIsolationParam = "transaction_isolation"

// MySQLDSN returns dsn with transaction_isolation set for every new connection.
// IsolationUnspecified returns dsn with its parameters untouched.
func MySQLDSN(dsn string, level common.IsolationLevel) (string, error) {
	if !level.IsValid() {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownIsolationLevel, level)
	}

	config, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}

	if level == common.IsolationUnspecified {
		return config.FormatDSN(), nil
	}

	if config.Params == nil {
		config.Params = make(map[string]string)
	}
	config.Params[mysqlIsolationParam] = "'" + level.MySQLValue() + "'"
	return config.FormatDSN(), nil
}

// OpenMySQL opens a MySQL pool whose connections start at level
func OpenMySQL(dsn string, level common.IsolationLevel) (*sql.DB, error) {
	dsn, err := MySQLDSN(dsn, level)
	if err != nil {
		return nil, err
	}
	return sql.Open("mysql", dsn)
}

// mysqlBeginStatements returns the statements that open a MySQL transaction at level
func mysqlBeginStatements(level common.IsolationLevel) ([]string, error) {
	if !level.IsValid() {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownIsolationLevel, level)
	}
	if level == common.IsolationUnspecified {
		return []string{"BEGIN"}, nil
	}

	set, err := protocol.FormatSetTransaction(level, protocol.ScopeNextTransaction)
	if err != nil {
		return nil, err
	}
	return []string{set, "BEGIN"}, nil
}

// BeginMySQL opens a transaction on a dedicated connection of a MySQL db at level.
// SET TRANSACTION only affects the next transaction, so no reset is needed on release.
func BeginMySQL(ctx context.Context, db *sql.DB, level common.IsolationLevel) (*IsolatedTx, error) {
	stmts, err := mysqlBeginStatements(level)
	if err != nil {
		return nil, err
	}
	return begin(ctx, db, level, stmts, "")
}
