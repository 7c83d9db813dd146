package protocol

import (
	"errors"
	"sync/atomic"

	"github.com/maxpert/isolevel/common"
	"github.com/rs/zerolog/log"
)

var lastTxnID atomic.Uint64

// Exec applies one classified statement to the session. SET statements that
// touch isolation are applied, BEGIN opens a statement buffer, COMMIT and
// ROLLBACK close it, and everything else is buffered in the open transaction.
func (s *IsolationSession) Exec(stmt Statement) error {
	switch stmt.Type {
	case common.StatementUnsupported:
		if stmt.Err != nil {
			return stmt.Err
		}
		return errors.New(stmt.Error)

	case common.StatementSetIsolation:
		return s.Apply(stmt.Isolation)

	case common.StatementBegin:
		txn, err := s.BeginTransaction(lastTxnID.Add(1))
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.txn = txn
		s.mu.Unlock()
		return nil

	case common.StatementCommit, common.StatementRollback:
		s.mu.Lock()
		txn := s.txn
		s.txn = nil
		s.mu.Unlock()

		if txn != nil {
			var err error
			if stmt.Type == common.StatementCommit {
				err = txn.Commit()
			} else {
				err = txn.Rollback()
			}
			if err != nil {
				return err
			}
			log.Debug().
				Uint64("conn_id", s.ConnID).
				Uint64("txn_id", txn.ID).
				Str("isolation", txn.Isolation.String()).
				Bool("has_writes", txn.HasWrites()).
				Str("outcome", stmt.Type.String()).
				Msg("Transaction finished")
		}
		s.End()
		return nil

	default:
		s.mu.Lock()
		txn := s.txn
		s.mu.Unlock()
		if txn == nil {
			return nil
		}
		return txn.AddStatement(stmt)
	}
}

// CurrentTransaction returns the statement buffer opened by Exec, or nil
func (s *IsolationSession) CurrentTransaction() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn
}
