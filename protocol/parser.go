package protocol

import (
	"errors"
	"regexp"
	"strings"

	"github.com/maxpert/isolevel/common"
	"github.com/rs/zerolog/log"
	"vitess.io/vitess/go/vt/sqlparser"
)

// Global parser instance (reused for efficiency)
var vitessParser *sqlparser.Parser

var (
	// Vitess does not parse every savepoint spelling MySQL accepts
	savepointPattern        = regexp.MustCompile(`(?i)^\s*SAVEPOINT\s+`)
	releaseSavepointPattern = regexp.MustCompile(`(?i)^\s*RELEASE\s+SAVEPOINT\s+`)
)

func init() {
	var err error
	vitessParser, err = sqlparser.New(sqlparser.Options{})
	if err != nil {
		panic("failed to initialize Vitess parser: " + err.Error())
	}
}

// truncateSQLForLog returns first n chars of SQL for logging
func truncateSQLForLog(sql string, n int) string {
	if len(sql) <= n {
		return sql
	}
	return sql[:n] + "..."
}

// Statement represents a single classified SQL statement
type Statement struct {
	SQL       string
	Type      common.StatementCode
	Isolation *IsolationSetting // Set when Type is StatementSetIsolation
	Error     string            // Error message if Type is StatementUnsupported
	Err       error             // Underlying error if Type is StatementUnsupported
}

// ParseStatement classifies a SQL statement. SET statements that assign
// isolation or access mode are reported as StatementSetIsolation with the
// parsed setting attached.
func ParseStatement(sql string) Statement {
	sql = strings.TrimSpace(sql)
	stmt := Statement{SQL: sql}

	if savepointPattern.MatchString(sql) || releaseSavepointPattern.MatchString(sql) {
		stmt.Type = common.StatementSavepoint
		return stmt
	}

	parsed, err := vitessParser.Parse(sql)
	if err != nil {
		log.Debug().
			Err(err).
			Str("sql_prefix", truncateSQLForLog(sql, 80)).
			Msg("PARSE: Vitess parse failed")
		stmt.Type = common.StatementUnsupported
		stmt.Error = err.Error()
		stmt.Err = err
		return stmt
	}

	switch parsed := parsed.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		stmt.Type = common.StatementSelect

	case *sqlparser.Insert:
		if parsed.Action == sqlparser.ReplaceAct {
			stmt.Type = common.StatementReplace
		} else {
			stmt.Type = common.StatementInsert
		}

	case *sqlparser.Update:
		stmt.Type = common.StatementUpdate

	case *sqlparser.Delete:
		stmt.Type = common.StatementDelete

	case sqlparser.DDLStatement:
		stmt.Type = common.StatementDDL

	case *sqlparser.Begin:
		stmt.Type = common.StatementBegin

	case *sqlparser.Commit:
		stmt.Type = common.StatementCommit

	case *sqlparser.Rollback:
		stmt.Type = common.StatementRollback

	case *sqlparser.Savepoint, *sqlparser.Release, *sqlparser.SRollback:
		stmt.Type = common.StatementSavepoint

	case *sqlparser.Set:
		setting, err := isolationFromStatement(parsed)
		switch {
		case err == nil:
			stmt.Type = common.StatementSetIsolation
			stmt.Isolation = setting
		case errors.Is(err, ErrNotIsolationStatement):
			stmt.Type = common.StatementSet
		default:
			stmt.Type = common.StatementUnsupported
			stmt.Error = err.Error()
			stmt.Err = err
		}

	default:
		stmt.Type = common.StatementUnknown
	}

	return stmt
}

// IsTransactionControl returns true if statement is transaction control
func IsTransactionControl(stmt Statement) bool {
	return stmt.Type.IsTransactionControl()
}
