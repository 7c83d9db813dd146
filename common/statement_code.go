// Package common provides shared types used across the codebase.
// StatementCode and IsolationLevel are defined here and only here.
package common

// StatementCode categorizes SQL statements for session routing.
type StatementCode int

const (
	StatementUnknown StatementCode = iota // 0 - means not yet classified
	StatementInsert
	StatementReplace
	StatementUpdate
	StatementDelete
	StatementDDL
	StatementBegin
	StatementCommit
	StatementRollback
	StatementSavepoint
	StatementSelect
	StatementSet
	StatementSetIsolation // SET TRANSACTION ISOLATION LEVEL, SET @@transaction_isolation, ...
	StatementUnsupported
)

var statementCodeNames = map[StatementCode]string{
	StatementUnknown:      "UNKNOWN",
	StatementInsert:       "INSERT",
	StatementReplace:      "REPLACE",
	StatementUpdate:       "UPDATE",
	StatementDelete:       "DELETE",
	StatementDDL:          "DDL",
	StatementBegin:        "BEGIN",
	StatementCommit:       "COMMIT",
	StatementRollback:     "ROLLBACK",
	StatementSavepoint:    "SAVEPOINT",
	StatementSelect:       "SELECT",
	StatementSet:          "SET",
	StatementSetIsolation: "SET_ISOLATION",
	StatementUnsupported:  "UNSUPPORTED",
}

func (t StatementCode) String() string {
	if name, ok := statementCodeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsMutation returns true if the statement type is a mutation operation.
func (t StatementCode) IsMutation() bool {
	switch t {
	case StatementInsert, StatementReplace, StatementUpdate, StatementDelete, StatementDDL:
		return true
	}
	return false
}

// IsTransactionControl returns true for statements that open, close or shape a transaction.
func (t StatementCode) IsTransactionControl() bool {
	switch t {
	case StatementBegin, StatementCommit, StatementRollback, StatementSavepoint, StatementSetIsolation:
		return true
	}
	return false
}
