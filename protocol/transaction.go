package protocol

import (
	"fmt"
	"sync"

	"github.com/maxpert/isolevel/common"
)

// Transaction represents a buffered transaction at a fixed isolation level
type Transaction struct {
	ID         uint64
	Isolation  common.IsolationLevel
	ReadOnly   bool
	Statements []Statement
	mu         sync.RWMutex
	inProgress bool
}

// NewTransaction creates a new transaction buffer
func NewTransaction(id uint64, isolation common.IsolationLevel, readOnly bool) *Transaction {
	return &Transaction{
		ID:         id,
		Isolation:  isolation,
		ReadOnly:   readOnly,
		Statements: make([]Statement, 0),
		inProgress: true,
	}
}

// AddStatement adds a statement to the transaction buffer.
// Writes are rejected in READ ONLY transactions.
func (t *Transaction) AddStatement(stmt Statement) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inProgress {
		return fmt.Errorf("transaction %d is not in progress", t.ID)
	}

	if t.ReadOnly && stmt.Type.IsMutation() {
		return ErrReadOnlyTransaction()
	}

	t.Statements = append(t.Statements, stmt)
	return nil
}

// Commit marks the transaction as committed
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inProgress {
		return fmt.Errorf("transaction %d is not in progress", t.ID)
	}

	t.inProgress = false
	return nil
}

// Rollback discards the transaction
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inProgress {
		return fmt.Errorf("transaction %d is not in progress", t.ID)
	}

	t.inProgress = false
	t.Statements = nil
	return nil
}

// IsInProgress returns true if the transaction is still in progress
func (t *Transaction) IsInProgress() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inProgress
}

// GetStatements returns a copy of the statements
func (t *Transaction) GetStatements() []Statement {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stmts := make([]Statement, len(t.Statements))
	copy(stmts, t.Statements)
	return stmts
}

// StatementCount returns the number of statements in the transaction
func (t *Transaction) StatementCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.Statements)
}

// HasWrites returns true if the transaction contains any write statements
func (t *Transaction) HasWrites() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, stmt := range t.Statements {
		if stmt.Type.IsMutation() {
			return true
		}
	}
	return false
}
