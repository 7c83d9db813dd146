package common

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// IsolationLevel is a SQL transaction isolation level as written in a
// SET TRANSACTION ISOLATION LEVEL clause. The zero value means no level was stated.
type IsolationLevel uint8

const (
	IsolationUnspecified IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable

	isolationLevelCount = iota
)

// ErrUnknownIsolationLevel is returned when text does not name one of the five levels.
var ErrUnknownIsolationLevel = errors.New("unknown isolation level")

var isolationLabels = [isolationLevelCount]string{
	IsolationUnspecified:     "UNSPECIFIED",
	IsolationReadUncommitted: "READ UNCOMMITTED",
	IsolationReadCommitted:   "READ COMMITTED",
	IsolationRepeatableRead:  "REPEATABLE READ",
	IsolationSerializable:    "SERIALIZABLE",
}

var isolationSQLLevels = [isolationLevelCount]sql.IsolationLevel{
	IsolationUnspecified:     sql.LevelDefault,
	IsolationReadUncommitted: sql.LevelReadUncommitted,
	IsolationReadCommitted:   sql.LevelReadCommitted,
	IsolationRepeatableRead:  sql.LevelRepeatableRead,
	IsolationSerializable:    sql.LevelSerializable,
}

// IsolationLevels returns every level in declared order.
func IsolationLevels() []IsolationLevel {
	return []IsolationLevel{
		IsolationUnspecified,
		IsolationReadUncommitted,
		IsolationReadCommitted,
		IsolationRepeatableRead,
		IsolationSerializable,
	}
}

// IsValid reports whether l is one of the declared levels.
func (l IsolationLevel) IsValid() bool {
	return l < isolationLevelCount
}

// String returns the SQL syntax for the level, e.g. "READ COMMITTED".
func (l IsolationLevel) String() string {
	if !l.IsValid() {
		return "IsolationLevel(" + strconv.Itoa(int(l)) + ")"
	}
	return isolationLabels[l]
}

// MySQLValue returns the level in @@transaction_isolation form (READ-COMMITTED).
// Unspecified has no such form and yields "".
func (l IsolationLevel) MySQLValue() string {
	if l == IsolationUnspecified || !l.IsValid() {
		return ""
	}
	return strings.ReplaceAll(isolationLabels[l], " ", "-")
}

// SQLLevel maps the level onto database/sql. Unspecified maps to sql.LevelDefault.
func (l IsolationLevel) SQLLevel() sql.IsolationLevel {
	if !l.IsValid() {
		return sql.LevelDefault
	}
	return isolationSQLLevels[l]
}

// Resolve returns l, or fallback when l is unspecified.
func (l IsolationLevel) Resolve(fallback IsolationLevel) IsolationLevel {
	if l == IsolationUnspecified {
		return fallback
	}
	return l
}

// MarshalText implements encoding.TextMarshaler.
func (l IsolationLevel) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIsolationLevel, uint8(l))
	}
	return []byte(isolationLabels[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *IsolationLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseIsolationLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseIsolationLevel accepts the SQL label, the MySQL variable form and
// underscore spellings, case-insensitively. Empty input is Unspecified.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	normalized := strings.TrimSpace(s)
	normalized = strings.Trim(normalized, "'\"`")
	normalized = strings.ToUpper(strings.TrimSpace(normalized))
	normalized = strings.NewReplacer("-", " ", "_", " ").Replace(normalized)
	normalized = strings.Join(strings.Fields(normalized), " ")

	if normalized == "" {
		return IsolationUnspecified, nil
	}

	for i, label := range isolationLabels {
		if label == normalized {
			return IsolationLevel(i), nil
		}
	}
	return IsolationUnspecified, fmt.Errorf("%w: %q", ErrUnknownIsolationLevel, s)
}

// IsolationLevelFromSQL maps a database/sql level back onto IsolationLevel.
// Levels without a SQL-standard counterpart (snapshot, linearizable, write committed) fail.
func IsolationLevelFromSQL(level sql.IsolationLevel) (IsolationLevel, error) {
	for i, candidate := range isolationSQLLevels {
		if candidate == level {
			return IsolationLevel(i), nil
		}
	}
	return IsolationUnspecified, fmt.Errorf("%w: %s", ErrUnknownIsolationLevel, level)
}
