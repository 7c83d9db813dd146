package protocol

import (
	"errors"
	"fmt"
)

// MySQL error codes surfaced by isolation handling
const (
	ErrCodeUnknown                 uint16 = 1105
	ErrCodeUnknownSystemVariable   uint16 = 1193
	ErrCodeLockTimeout             uint16 = 1205
	ErrCodeDeadlock                uint16 = 1213
	ErrCodeWrongValueForVar        uint16 = 1231
	ErrCodeParseError              uint16 = 1064
	ErrCodeCantChangeTxIsolation   uint16 = 1568
	ErrCodeCantExecuteInReadOnlyTx uint16 = 1792
)

// SQLSTATE values
const (
	SQLStateGeneral  = "HY000"
	SQLStateSyntax   = "42000"
	SQLStateDeadlock = "40001"
	SQLStateTxState  = "25001"
	SQLStateReadOnly = "25006"
)

// MySQLError represents a MySQL protocol error with error code and SQLSTATE
type MySQLError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *MySQLError) Error() string {
	return fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// NewMySQLError creates a new MySQL error
func NewMySQLError(code uint16, sqlState, message string) *MySQLError {
	return &MySQLError{
		Code:     code,
		SQLState: sqlState,
		Message:  message,
	}
}

// ErrLockWaitTimeout returns error 1205 - lock wait timeout exceeded
func ErrLockWaitTimeout() *MySQLError {
	return NewMySQLError(ErrCodeLockTimeout, SQLStateGeneral, "Lock wait timeout exceeded; try restarting transaction")
}

// ErrDeadlock returns error 1213 - deadlock detected
func ErrDeadlock() *MySQLError {
	return NewMySQLError(ErrCodeDeadlock, SQLStateDeadlock, "Deadlock found when trying to get lock; try restarting transaction")
}

// ErrCantChangeTxCharacteristics returns error 1568 - SET TRANSACTION inside an active transaction
func ErrCantChangeTxCharacteristics() *MySQLError {
	return NewMySQLError(ErrCodeCantChangeTxIsolation, SQLStateTxState,
		"Transaction characteristics can't be changed while a transaction is in progress")
}

// ErrWrongValueForVar returns error 1231 - bad value for a system variable
func ErrWrongValueForVar(name, value string) *MySQLError {
	return NewMySQLError(ErrCodeWrongValueForVar, SQLStateSyntax,
		fmt.Sprintf("Variable '%s' can't be set to the value of '%s'", name, value))
}

// ErrUnknownSystemVariable returns error 1193
func ErrUnknownSystemVariable(name string) *MySQLError {
	return NewMySQLError(ErrCodeUnknownSystemVariable, SQLStateGeneral,
		fmt.Sprintf("Unknown system variable '%s'", name))
}

// ErrReadOnlyTransaction returns error 1792 - write inside READ ONLY transaction
func ErrReadOnlyTransaction() *MySQLError {
	return NewMySQLError(ErrCodeCantExecuteInReadOnlyTx, SQLStateReadOnly,
		"Cannot execute statement in a READ ONLY transaction.")
}

// IsRetryableError checks if an error is a retryable transaction error
func IsRetryableError(err error) bool {
	var mysqlErr *MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}

	switch mysqlErr.Code {
	case ErrCodeLockTimeout,
		ErrCodeDeadlock:
		return true
	default:
		return false
	}
}
