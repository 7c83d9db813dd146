package protocol

import (
	"errors"
	"testing"

	"github.com/maxpert/isolevel/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIsolationStatement(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantLevel common.IsolationLevel
		wantScope IsolationScope
		wantRO    *bool
	}{
		{
			name:      "next transaction",
			sql:       "SET TRANSACTION ISOLATION LEVEL READ COMMITTED",
			wantLevel: common.IsolationReadCommitted,
			wantScope: ScopeNextTransaction,
		},
		{
			name:      "session",
			sql:       "SET SESSION TRANSACTION ISOLATION LEVEL SERIALIZABLE",
			wantLevel: common.IsolationSerializable,
			wantScope: ScopeSession,
		},
		{
			name:      "global",
			sql:       "SET GLOBAL TRANSACTION ISOLATION LEVEL READ UNCOMMITTED",
			wantLevel: common.IsolationReadUncommitted,
			wantScope: ScopeGlobal,
		},
		{
			name:      "lower case",
			sql:       "set transaction isolation level repeatable read",
			wantLevel: common.IsolationRepeatableRead,
			wantScope: ScopeNextTransaction,
		},
		{
			name:      "level with access mode",
			sql:       "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE, READ ONLY",
			wantLevel: common.IsolationSerializable,
			wantScope: ScopeNextTransaction,
			wantRO:    boolPtr(true),
		},
		{
			name:      "access mode only",
			sql:       "SET SESSION TRANSACTION READ WRITE",
			wantLevel: common.IsolationUnspecified,
			wantScope: ScopeSession,
			wantRO:    boolPtr(false),
		},
		{
			name:      "session variable",
			sql:       "SET @@session.transaction_isolation = 'READ-COMMITTED'",
			wantLevel: common.IsolationReadCommitted,
			wantScope: ScopeSession,
		},
		{
			name:      "global variable",
			sql:       "SET @@global.transaction_isolation = 'SERIALIZABLE'",
			wantLevel: common.IsolationSerializable,
			wantScope: ScopeGlobal,
		},
		{
			name:      "legacy tx_isolation",
			sql:       "SET tx_isolation = 'REPEATABLE-READ'",
			wantLevel: common.IsolationRepeatableRead,
			wantScope: ScopeSession,
		},
		{
			name:      "mixed with unrelated variable",
			sql:       "SET autocommit = 1, transaction_isolation = 'READ-UNCOMMITTED'",
			wantLevel: common.IsolationReadUncommitted,
			wantScope: ScopeSession,
		},
		{
			name:      "unscoped system variable is next transaction only",
			sql:       "SET @@transaction_isolation = 'SERIALIZABLE'",
			wantLevel: common.IsolationSerializable,
			wantScope: ScopeNextTransaction,
		},
		{
			name:      "user variable alongside system variable",
			sql:       "SET @transaction_isolation = 'READ-UNCOMMITTED', @@session.transaction_isolation = 'READ-COMMITTED'",
			wantLevel: common.IsolationReadCommitted,
			wantScope: ScopeSession,
		},
		{
			name:      "read only variable",
			sql:       "SET @@session.transaction_read_only = 1",
			wantLevel: common.IsolationUnspecified,
			wantScope: ScopeSession,
			wantRO:    boolPtr(true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setting, err := ParseIsolationStatement(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, setting.Level)
			assert.Equal(t, tt.wantScope, setting.Scope)
			if tt.wantRO == nil {
				assert.Nil(t, setting.ReadOnly)
			} else {
				require.NotNil(t, setting.ReadOnly)
				assert.Equal(t, *tt.wantRO, *setting.ReadOnly)
			}
		})
	}
}

func TestParseIsolationStatement_NotIsolation(t *testing.T) {
	for _, sql := range []string{
		"SELECT 1",
		"SET autocommit = 0",
		"SET NAMES utf8mb4",
		"INSERT INTO t VALUES (1)",
		"SET @transaction_isolation = 'SERIALIZABLE'",
		"SET @tx_read_only = 1",
		"SET @tx_isolation = 'SNAPSHOT'",
	} {
		t.Run(sql, func(t *testing.T) {
			_, err := ParseIsolationStatement(sql)
			assert.True(t, errors.Is(err, ErrNotIsolationStatement), "got %v", err)
		})
	}
}

func TestParseIsolationStatement_Errors(t *testing.T) {
	_, err := ParseIsolationStatement("SET transaction_isolation = 'SNAPSHOT'")
	assert.ErrorIs(t, err, common.ErrUnknownIsolationLevel)

	_, err = ParseIsolationStatement("SET transaction_isolation = 'UNSPECIFIED'")
	assert.ErrorIs(t, err, common.ErrUnknownIsolationLevel)

	_, err = ParseIsolationStatement("SET @@global.transaction_isolation = 'SERIALIZABLE', @@session.transaction_read_only = 1")
	assert.ErrorIs(t, err, ErrMixedIsolationScope)

	_, err = ParseIsolationStatement("SET TRANSACTION ISOLATION")
	assert.Error(t, err)
}

func TestParseIsolationStatement_CacheReturnsCopies(t *testing.T) {
	require.NoError(t, InitializeIsolationCache(8))
	defer InitializeIsolationCache(DefaultIsolationCacheSize)

	sql := "SET TRANSACTION ISOLATION LEVEL READ COMMITTED, READ ONLY"
	first, err := ParseIsolationStatement(sql)
	require.NoError(t, err)

	// Mutating a result must not leak into the cache
	first.Level = common.IsolationSerializable
	*first.ReadOnly = false

	second, err := ParseIsolationStatement(sql)
	require.NoError(t, err)
	assert.Equal(t, common.IsolationReadCommitted, second.Level)
	require.NotNil(t, second.ReadOnly)
	assert.True(t, *second.ReadOnly)
	assert.Equal(t, 1, getIsolationCache().Len())

	// A result served from the cache is also a private copy
	second.Level = common.IsolationReadUncommitted
	*second.ReadOnly = false

	third, err := ParseIsolationStatement(sql)
	require.NoError(t, err)
	assert.Equal(t, common.IsolationReadCommitted, third.Level)
	require.NotNil(t, third.ReadOnly)
	assert.True(t, *third.ReadOnly)
}

func TestFormatSetTransaction(t *testing.T) {
	got, err := FormatSetTransaction(common.IsolationReadCommitted, ScopeNextTransaction)
	require.NoError(t, err)
	assert.Equal(t, "SET TRANSACTION ISOLATION LEVEL READ COMMITTED", got)

	got, err = FormatSetTransaction(common.IsolationRepeatableRead, ScopeSession)
	require.NoError(t, err)
	assert.Equal(t, "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ", got)

	got, err = FormatSetTransaction(common.IsolationSerializable, ScopeGlobal)
	require.NoError(t, err)
	assert.Equal(t, "SET GLOBAL TRANSACTION ISOLATION LEVEL SERIALIZABLE", got)

	_, err = FormatSetTransaction(common.IsolationUnspecified, ScopeSession)
	assert.ErrorIs(t, err, ErrIsolationUnspecified)

	_, err = FormatSetTransaction(common.IsolationLevel(12), ScopeSession)
	assert.ErrorIs(t, err, common.ErrUnknownIsolationLevel)

	_, err = FormatSetTransaction(common.IsolationSerializable, IsolationScope(9))
	assert.Error(t, err)
}

func TestFormatSetTransaction_RoundTrip(t *testing.T) {
	for _, level := range common.IsolationLevels() {
		if level == common.IsolationUnspecified {
			continue
		}
		for _, scope := range []IsolationScope{ScopeNextTransaction, ScopeSession, ScopeGlobal} {
			sql, err := FormatSetTransaction(level, scope)
			require.NoError(t, err)

			setting, err := ParseIsolationStatement(sql)
			require.NoError(t, err, sql)
			assert.Equal(t, level, setting.Level, sql)
			assert.Equal(t, scope, setting.Scope, sql)
		}
	}
}

func TestIsolationScope_String(t *testing.T) {
	assert.Equal(t, "NEXT_TRANSACTION", ScopeNextTransaction.String())
	assert.Equal(t, "SESSION", ScopeSession.String())
	assert.Equal(t, "GLOBAL", ScopeGlobal.String())
	assert.Equal(t, "UNKNOWN", IsolationScope(7).String())
}

func boolPtr(b bool) *bool {
	return &b
}
