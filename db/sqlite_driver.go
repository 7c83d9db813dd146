package db

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/maxpert/isolevel/common"
)

// SQLiteDriverName is the custom driver name with REGEXP and isolation helpers
const SQLiteDriverName = "sqlite3_isolevel"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Usage: column REGEXP 'pattern'
			if err := conn.RegisterFunc("regexp", regexpMatch, true); err != nil {
				return err
			}
			// Usage: SELECT mysql_isolation('read committed') -> 'READ-COMMITTED'
			return conn.RegisterFunc("mysql_isolation", mysqlIsolation, true)
		},
	})
}

// regexpMatch implements MySQL-compatible REGEXP behavior
func regexpMatch(pattern, text string) (bool, error) {
	return regexp.MatchString(pattern, text)
}

// mysqlIsolation normalizes any accepted isolation spelling to its MySQL variable value
func mysqlIsolation(text string) (string, error) {
	level, err := common.ParseIsolationLevel(text)
	if err != nil {
		return "", err
	}
	return level.MySQLValue(), nil
}

// OpenSQLite opens path with the custom driver and a busy timeout
func OpenSQLite(path string, busyTimeoutMS int) (*sql.DB, error) {
	dsn := path
	if busyTimeoutMS > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%s_busy_timeout=%d", path, sep, busyTimeoutMS)
	}

	db, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	return db, nil
}
