package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/telemetry"
	"vitess.io/vitess/go/vt/sqlparser"
)

// DefaultIsolationCacheSize is the number of parsed isolation statements kept in memory
const DefaultIsolationCacheSize = 1024

var (
	// ErrNotIsolationStatement is returned for SQL that does not touch isolation or access mode
	ErrNotIsolationStatement = errors.New("not an isolation statement")

	// ErrIsolationUnspecified is returned when rendering a SET for the UNSPECIFIED level
	ErrIsolationUnspecified = errors.New("isolation level is unspecified")

	// ErrMixedIsolationScope is returned when one SET assigns isolation in more than one scope
	ErrMixedIsolationScope = errors.New("isolation assignments span multiple scopes")
)

// VariableValueError reports a value a transaction variable cannot take
type VariableValueError struct {
	Name  string
	Value string
	Err   error
}

func (e *VariableValueError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %v", e.Value, e.Name, e.Err)
}

func (e *VariableValueError) Unwrap() error {
	return e.Err
}

// IsolationScope is the reach of an isolation assignment
type IsolationScope int

const (
	ScopeNextTransaction IsolationScope = iota // SET TRANSACTION ... (one shot)
	ScopeSession                               // SET SESSION ... / SET @@session.x
	ScopeGlobal                                // SET GLOBAL ... / SET @@global.x
)

// String returns string representation of the scope
func (s IsolationScope) String() string {
	switch s {
	case ScopeNextTransaction:
		return "NEXT_TRANSACTION"
	case ScopeSession:
		return "SESSION"
	case ScopeGlobal:
		return "GLOBAL"
	default:
		return "UNKNOWN"
	}
}

// IsolationSetting is the isolation-related content of one SET statement.
// Level is IsolationUnspecified when only the access mode was assigned.
type IsolationSetting struct {
	Level    common.IsolationLevel `json:"level"`
	Scope    IsolationScope        `json:"-"`
	ReadOnly *bool                 `json:"read_only,omitempty"`
}

func (s *IsolationSetting) clone() *IsolationSetting {
	c := *s
	if s.ReadOnly != nil {
		ro := *s.ReadOnly
		c.ReadOnly = &ro
	}
	return &c
}

var (
	isolationCache   *lru.Cache[string, *IsolationSetting]
	isolationCacheMu sync.RWMutex
)

func init() {
	if err := InitializeIsolationCache(DefaultIsolationCacheSize); err != nil {
		panic("failed to create isolation cache: " + err.Error())
	}
}

// InitializeIsolationCache replaces the parse cache with an empty one of the given size
func InitializeIsolationCache(size int) error {
	cache, err := lru.New[string, *IsolationSetting](size)
	if err != nil {
		return err
	}

	isolationCacheMu.Lock()
	isolationCache = cache
	isolationCacheMu.Unlock()
	return nil
}

func getIsolationCache() *lru.Cache[string, *IsolationSetting] {
	isolationCacheMu.RLock()
	defer isolationCacheMu.RUnlock()
	return isolationCache
}

// ParseIsolationStatement extracts the isolation level, scope and access mode from
// SET TRANSACTION and SET transaction_isolation / transaction_read_only statements.
func ParseIsolationStatement(sql string) (*IsolationSetting, error) {
	sql = strings.TrimSpace(sql)
	cache := getIsolationCache()

	if cached, ok := cache.Get(sql); ok {
		telemetry.IsolationParseTotal.With("cached").Inc()
		return cached.clone(), nil
	}

	parsed, err := vitessParser.Parse(sql)
	if err != nil {
		telemetry.IsolationParseTotal.With("error").Inc()
		return nil, fmt.Errorf("failed to parse %q: %w", truncateSQLForLog(sql, 64), err)
	}

	setting, err := isolationFromStatement(parsed)
	if err != nil {
		if errors.Is(err, ErrNotIsolationStatement) {
			telemetry.IsolationParseTotal.With("not_isolation").Inc()
		} else {
			telemetry.IsolationParseTotal.With("error").Inc()
		}
		return nil, err
	}

	cache.Add(sql, setting.clone())
	telemetry.IsolationParseTotal.With("ok").Inc()
	return setting, nil
}

// isolationFromStatement walks a parsed SET and collects isolation assignments.
func isolationFromStatement(parsed sqlparser.Statement) (*IsolationSetting, error) {
	set, ok := parsed.(*sqlparser.Set)
	if !ok {
		return nil, ErrNotIsolationStatement
	}

	var setting *IsolationSetting
	for _, expr := range set.Exprs {
		// @name is a user variable, not the system variable of the same name
		if expr == nil || expr.Var == nil || expr.Var.Scope == sqlparser.VariableScope {
			continue
		}

		name := expr.Var.Name.Lowered()
		isLevel := isIsolationVariable(name)
		isAccessMode := isReadOnlyVariable(name)
		if !isLevel && !isAccessMode {
			continue
		}

		scope := scopeFromVitess(expr.Var.Scope)
		if setting == nil {
			setting = &IsolationSetting{Scope: scope}
		} else if setting.Scope != scope {
			return nil, ErrMixedIsolationScope
		}

		raw := setExprValue(expr.Expr)
		if isLevel {
			level, err := common.ParseIsolationLevel(raw)
			if err == nil && level == common.IsolationUnspecified {
				err = fmt.Errorf("%w: %q", common.ErrUnknownIsolationLevel, raw)
			}
			if err != nil {
				return nil, &VariableValueError{Name: name, Value: raw, Err: err}
			}
			setting.Level = level
			continue
		}

		readOnly, err := parseBoolVariable(raw)
		if err != nil {
			return nil, &VariableValueError{Name: name, Value: raw, Err: err}
		}
		setting.ReadOnly = &readOnly
	}

	if setting == nil {
		return nil, ErrNotIsolationStatement
	}
	return setting, nil
}

func isIsolationVariable(name string) bool {
	return name == "transaction_isolation" || name == "tx_isolation"
}

func isReadOnlyVariable(name string) bool {
	return name == "transaction_read_only" || name == "tx_read_only"
}

func scopeFromVitess(scope sqlparser.Scope) IsolationScope {
	switch scope {
	case sqlparser.GlobalScope:
		return ScopeGlobal
	case sqlparser.NextTxScope:
		return ScopeNextTransaction
	default:
		return ScopeSession
	}
}

// setExprValue renders the right hand side of a SET assignment as plain text
func setExprValue(expr sqlparser.Expr) string {
	switch e := expr.(type) {
	case *sqlparser.Literal:
		return e.Val
	case sqlparser.BoolVal:
		if e {
			return "1"
		}
		return "0"
	case *sqlparser.ColName:
		return e.Name.String()
	default:
		return strings.Trim(sqlparser.String(expr), "'\"`")
	}
}

func parseBoolVariable(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", raw)
	}
}

// FormatSetTransaction renders the SET statement that selects level in scope
func FormatSetTransaction(level common.IsolationLevel, scope IsolationScope) (string, error) {
	if !level.IsValid() {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownIsolationLevel, level)
	}
	if level == common.IsolationUnspecified {
		return "", ErrIsolationUnspecified
	}

	var b strings.Builder
	b.WriteString("SET ")
	switch scope {
	case ScopeSession:
		b.WriteString("SESSION ")
	case ScopeGlobal:
		b.WriteString("GLOBAL ")
	case ScopeNextTransaction:
	default:
		return "", fmt.Errorf("unknown isolation scope: %d", scope)
	}
	b.WriteString("TRANSACTION ISOLATION LEVEL ")
	b.WriteString(level.String())
	return b.String(), nil
}
