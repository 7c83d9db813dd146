package handlers

import (
	"regexp"
	"strings"

	"github.com/maxpert/isolevel/protocol"
)

// SystemVarConfig configures system variable responses
type SystemVarConfig struct {
	VersionComment string // e.g., "isolevel"
	ConnID         uint64 // Session connection ID
	Session        *protocol.IsolationSession
}

var systemVarPattern = regexp.MustCompile(`@@[A-Za-z_][A-Za-z0-9_.]*`)

// ExtractSystemVarNames returns the @@variables referenced by a query, in order
func ExtractSystemVarNames(query string) []string {
	return systemVarPattern.FindAllString(query, -1)
}

// HandleIsolationVariable answers transaction_isolation, tx_isolation and
// transaction_read_only in any scope; ok is false for anything else.
func HandleIsolationVariable(name string, session *protocol.IsolationSession) (string, bool) {
	if session == nil {
		return "", false
	}
	return session.SystemVariable(name)
}

// HandleSystemVariableQuery builds a single-row result for SELECT @@a, @@b, ...
func HandleSystemVariableQuery(query string, config SystemVarConfig) (*protocol.ResultSet, error) {
	names := ExtractSystemVarNames(query)
	if len(names) == 0 {
		// Fallback: return empty result
		return &protocol.ResultSet{
			Columns: []protocol.ColumnDef{{Name: "Value", Type: protocol.ColumnTypeVarString}},
			Rows:    [][]interface{}{{""}},
		}, nil
	}

	var columns []protocol.ColumnDef
	var values []interface{}

	for _, name := range names {
		value, ok := getSystemVariableValueByName(name, config)
		if !ok {
			return nil, protocol.ErrUnknownSystemVariable(strings.TrimPrefix(name, "@@"))
		}
		columns = append(columns, protocol.ColumnDef{Name: name, Type: protocol.ColumnTypeVarString})
		values = append(values, value)
	}

	return &protocol.ResultSet{
		Columns: columns,
		Rows:    [][]interface{}{values},
	}, nil
}

// getSystemVariableValueByName returns value for a variable name such as "@@session.autocommit"
func getSystemVariableValueByName(name string, config SystemVarConfig) (interface{}, bool) {
	if value, ok := HandleIsolationVariable(name, config.Session); ok {
		return value, true
	}

	varUpper := strings.ToUpper(strings.TrimPrefix(name, "@@"))
	varUpper = strings.TrimPrefix(varUpper, "SESSION.")
	varUpper = strings.TrimPrefix(varUpper, "GLOBAL.")

	switch varUpper {
	case "VERSION":
		return "8.0.32-isolevel", true
	case "VERSION_COMMENT":
		if config.VersionComment != "" {
			return config.VersionComment, true
		}
		return "isolevel", true
	case "AUTOCOMMIT":
		return 1, true
	case "PSEUDO_THREAD_ID":
		return config.ConnID, true
	case "DEFAULT_STORAGE_ENGINE":
		return "SQLite", true
	}
	return nil, false
}
