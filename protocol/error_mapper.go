package protocol

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/maxpert/isolevel/common"
)

// ConvertToMySQLError converts any error to *MySQLError with appropriate MySQL error codes
func ConvertToMySQLError(err error) *MySQLError {
	if err == nil {
		return nil
	}

	// Already a MySQLError, return as-is
	var mysqlErr *MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr
	}

	var valueErr *VariableValueError
	if errors.As(err, &valueErr) {
		return ErrWrongValueForVar(valueErr.Name, valueErr.Value)
	}

	switch {
	case errors.Is(err, common.ErrUnknownIsolationLevel):
		return NewMySQLError(ErrCodeWrongValueForVar, SQLStateSyntax, err.Error())
	case errors.Is(err, ErrMixedIsolationScope):
		return NewMySQLError(ErrCodeWrongValueForVar, SQLStateSyntax, err.Error())
	case errors.Is(err, ErrTransactionInProgress):
		return ErrCantChangeTxCharacteristics()
	case errors.Is(err, ErrNestedTransaction):
		return NewMySQLError(ErrCodeUnknown, SQLStateTxState, err.Error())
	}

	// Try to extract sqlite3.Error
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return mapSQLiteError(sqliteErr, err.Error())
	}

	// Fallback to message-based detection
	return mapByMessage(err.Error())
}

func mapSQLiteError(e sqlite3.Error, msg string) *MySQLError {
	switch e.Code {
	case sqlite3.ErrBusy:
		return ErrLockWaitTimeout()
	case sqlite3.ErrLocked:
		return ErrDeadlock()
	case sqlite3.ErrReadonly:
		return ErrReadOnlyTransaction()
	}

	return mapByMessage(msg)
}

func mapByMessage(msg string) *MySQLError {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "syntax error"):
		return NewMySQLError(ErrCodeParseError, SQLStateSyntax, msg)
	case strings.Contains(lower, "database is locked"):
		return ErrLockWaitTimeout()
	default:
		return NewMySQLError(ErrCodeUnknown, SQLStateGeneral, msg)
	}
}
