package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/encoding"
	"github.com/maxpert/isolevel/telemetry"
	"github.com/rs/zerolog/log"
)

// MySQLDefaultIsolation is used when neither the session nor the server states a level
const MySQLDefaultIsolation = common.IsolationRepeatableRead

var (
	// ErrTransactionInProgress is returned by SET TRANSACTION while a transaction is open
	ErrTransactionInProgress = errors.New("transaction characteristics can't be changed while a transaction is in progress")

	// ErrNestedTransaction is returned when Begin is called with a transaction already open
	ErrNestedTransaction = errors.New("transaction already in progress")

	// ErrNilIsolationSetting is returned by Apply for a nil setting
	ErrNilIsolationSetting = errors.New("nil isolation setting")
)

// ServerIsolation holds the server-wide (GLOBAL) transaction defaults
type ServerIsolation struct {
	mu       sync.RWMutex
	level    common.IsolationLevel
	readOnly bool
}

// NewServerIsolation creates server defaults, normally seeded from cfg.Config.Transaction
func NewServerIsolation(level common.IsolationLevel, readOnly bool) *ServerIsolation {
	return &ServerIsolation{level: level, readOnly: readOnly}
}

// Level returns the configured global level, which may be unspecified
func (s *ServerIsolation) Level() common.IsolationLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// EffectiveLevel returns the global level with the MySQL default filled in
func (s *ServerIsolation) EffectiveLevel() common.IsolationLevel {
	return s.Level().Resolve(MySQLDefaultIsolation)
}

// SetLevel changes the global level
func (s *ServerIsolation) SetLevel(level common.IsolationLevel) error {
	if !level.IsValid() {
		return fmt.Errorf("%w: %s", common.ErrUnknownIsolationLevel, level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	return nil
}

// ReadOnly returns the global access mode
func (s *ServerIsolation) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// SetReadOnly changes the global access mode
func (s *ServerIsolation) SetReadOnly(readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = readOnly
}

// IsolationSession tracks isolation state for one client connection.
// Precedence for a new transaction: next-transaction override, session, server, MySQL default.
type IsolationSession struct {
	ConnID uint64
	server *ServerIsolation

	mu              sync.Mutex
	sessionLevel    common.IsolationLevel
	sessionReadOnly *bool
	nextLevel       common.IsolationLevel
	nextReadOnly    *bool

	active         bool
	activeLevel    common.IsolationLevel
	activeReadOnly bool

	txn *Transaction // statement buffer of the open transaction, set by Exec
}

// NewIsolationSession creates a session bound to the server defaults
func NewIsolationSession(connID uint64, server *ServerIsolation) *IsolationSession {
	if server == nil {
		server = NewServerIsolation(common.IsolationUnspecified, false)
	}
	return &IsolationSession{
		ConnID: connID,
		server: server,
	}
}

// Apply applies a parsed SET to the session, its next transaction, or the server
func (s *IsolationSession) Apply(setting *IsolationSetting) error {
	if setting == nil {
		return ErrNilIsolationSetting
	}
	if !setting.Level.IsValid() {
		return fmt.Errorf("%w: %s", common.ErrUnknownIsolationLevel, setting.Level)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch setting.Scope {
	case ScopeNextTransaction:
		if s.active {
			return ErrTransactionInProgress
		}
		if setting.Level != common.IsolationUnspecified {
			s.nextLevel = setting.Level
		}
		if setting.ReadOnly != nil {
			ro := *setting.ReadOnly
			s.nextReadOnly = &ro
		}

	case ScopeSession:
		if setting.Level != common.IsolationUnspecified {
			s.sessionLevel = setting.Level
		}
		if setting.ReadOnly != nil {
			ro := *setting.ReadOnly
			s.sessionReadOnly = &ro
		}

	case ScopeGlobal:
		if setting.Level != common.IsolationUnspecified {
			if err := s.server.SetLevel(setting.Level); err != nil {
				return err
			}
		}
		if setting.ReadOnly != nil {
			s.server.SetReadOnly(*setting.ReadOnly)
		}

	default:
		return fmt.Errorf("unknown isolation scope: %d", setting.Scope)
	}

	if setting.Level != common.IsolationUnspecified {
		telemetry.IsolationChangesTotal.With(strings.ToLower(setting.Scope.String()), setting.Level.String()).Inc()
	}

	event := log.Debug().
		Uint64("conn_id", s.ConnID).
		Str("scope", setting.Scope.String()).
		Str("isolation", setting.Level.String())
	if setting.ReadOnly != nil {
		event = event.Bool("read_only", *setting.ReadOnly)
	}
	event.Msg("Isolation setting applied")

	return nil
}

// effectiveLocked resolves the level and access mode the next Begin would use.
// Caller must hold s.mu.
func (s *IsolationSession) effectiveLocked() (common.IsolationLevel, bool) {
	level := s.nextLevel.Resolve(s.sessionLevel.Resolve(s.server.EffectiveLevel()))

	readOnly := s.server.ReadOnly()
	if s.sessionReadOnly != nil {
		readOnly = *s.sessionReadOnly
	}
	if s.nextReadOnly != nil {
		readOnly = *s.nextReadOnly
	}
	return level, readOnly
}

// Effective returns the level the next Begin would use without consuming overrides
func (s *IsolationSession) Effective() common.IsolationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, _ := s.effectiveLocked()
	return level
}

// Begin starts a transaction and consumes any next-transaction override
func (s *IsolationSession) Begin() (common.IsolationLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return common.IsolationUnspecified, ErrNestedTransaction
	}

	level, readOnly := s.effectiveLocked()
	s.nextLevel = common.IsolationUnspecified
	s.nextReadOnly = nil

	s.active = true
	s.activeLevel = level
	s.activeReadOnly = readOnly

	telemetry.TransactionsBegunTotal.With(level.String()).Inc()
	log.Debug().
		Uint64("conn_id", s.ConnID).
		Str("isolation", level.String()).
		Bool("read_only", readOnly).
		Msg("Transaction begun")

	return level, nil
}

// BeginTransaction starts a transaction and returns its statement buffer
func (s *IsolationSession) BeginTransaction(txnID uint64) (*Transaction, error) {
	level, err := s.Begin()
	if err != nil {
		return nil, err
	}
	return NewTransaction(txnID, level, s.TransactionReadOnly()), nil
}

// End closes the active transaction (commit or rollback). No-op when none is open.
func (s *IsolationSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.activeLevel = common.IsolationUnspecified
	s.activeReadOnly = false
}

// InTransaction reports whether a transaction is open
func (s *IsolationSession) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// TransactionLevel returns the level of the open transaction, or Unspecified
func (s *IsolationSession) TransactionLevel() common.IsolationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLevel
}

// TransactionReadOnly reports whether the open transaction is READ ONLY
func (s *IsolationSession) TransactionReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeReadOnly
}

// SystemVariable answers isolation-related system variable reads.
// Accepts "@@transaction_isolation", "@@session.tx_isolation", "global.transaction_read_only", ...
func (s *IsolationSession) SystemVariable(name string) (string, bool) {
	varName := strings.ToLower(strings.TrimSpace(name))
	varName = strings.TrimPrefix(varName, "@@")

	global := false
	switch {
	case strings.HasPrefix(varName, "global."):
		global = true
		varName = strings.TrimPrefix(varName, "global.")
	case strings.HasPrefix(varName, "session."):
		varName = strings.TrimPrefix(varName, "session.")
	case strings.HasPrefix(varName, "local."):
		varName = strings.TrimPrefix(varName, "local.")
	}

	switch {
	case isIsolationVariable(varName):
		if global {
			return s.server.EffectiveLevel().MySQLValue(), true
		}
		s.mu.Lock()
		level := s.sessionLevel.Resolve(s.server.EffectiveLevel())
		s.mu.Unlock()
		return level.MySQLValue(), true

	case isReadOnlyVariable(varName):
		readOnly := s.server.ReadOnly()
		if !global {
			s.mu.Lock()
			if s.sessionReadOnly != nil {
				readOnly = *s.sessionReadOnly
			}
			s.mu.Unlock()
		}
		if readOnly {
			return "1", true
		}
		return "0", true
	}

	return "", false
}

// sessionSnapshot is the serialised form of a session; levels are stored by label
type sessionSnapshot struct {
	ConnID          uint64 `msgpack:"conn_id"`
	SessionLevel    string `msgpack:"session_level"`
	SessionReadOnly *bool  `msgpack:"session_read_only"`
	NextLevel       string `msgpack:"next_level"`
	NextReadOnly    *bool  `msgpack:"next_read_only"`
}

// Snapshot serialises the session for handoff to another connection.
// An open transaction cannot be handed off.
func (s *IsolationSession) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil, ErrTransactionInProgress
	}

	return encoding.Marshal(&sessionSnapshot{
		ConnID:          s.ConnID,
		SessionLevel:    s.sessionLevel.String(),
		SessionReadOnly: s.sessionReadOnly,
		NextLevel:       s.nextLevel.String(),
		NextReadOnly:    s.nextReadOnly,
	})
}

// RestoreIsolationSession rebuilds a session from Snapshot output
func RestoreIsolationSession(data []byte, server *ServerIsolation) (*IsolationSession, error) {
	var snap sessionSnapshot
	if err := encoding.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}

	sessionLevel, err := common.ParseIsolationLevel(snap.SessionLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid session level in snapshot: %w", err)
	}
	nextLevel, err := common.ParseIsolationLevel(snap.NextLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid next level in snapshot: %w", err)
	}

	session := NewIsolationSession(snap.ConnID, server)
	session.sessionLevel = sessionLevel
	session.sessionReadOnly = snap.SessionReadOnly
	session.nextLevel = nextLevel
	session.nextReadOnly = snap.NextReadOnly
	return session, nil
}

// SessionRegistry tracks live sessions by connection ID
type SessionRegistry struct {
	mu         sync.RWMutex
	sessions   map[uint64]*IsolationSession
	lastConnID uint64
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[uint64]*IsolationSession)}
}

// Register adds a session, replacing any previous one with the same ConnID
func (r *SessionRegistry) Register(session *IsolationSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ConnID] = session
	if session.ConnID > r.lastConnID {
		r.lastConnID = session.ConnID
	}
}

// Open creates and registers a session with the next free connection ID
func (r *SessionRegistry) Open(server *ServerIsolation) *IsolationSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastConnID++
	session := NewIsolationSession(r.lastConnID, server)
	r.sessions[session.ConnID] = session
	return session
}

// TryRegister adds a session unless its ConnID is already taken
func (r *SessionRegistry) TryRegister(session *IsolationSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ConnID]; ok {
		return false
	}
	r.sessions[session.ConnID] = session
	if session.ConnID > r.lastConnID {
		r.lastConnID = session.ConnID
	}
	return true
}

// Unregister removes a session
func (r *SessionRegistry) Unregister(connID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Get returns the session for connID
func (r *SessionRegistry) Get(connID uint64) (*IsolationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[connID]
	return session, ok
}

// SessionInfo is a point-in-time view of one session
type SessionInfo struct {
	ConnID        uint64 `json:"conn_id"`
	Effective     string `json:"effective"`
	InTransaction bool   `json:"in_transaction"`
	Transaction   string `json:"transaction_level,omitempty"`
}

// Info returns a point-in-time view of the session
func (s *IsolationSession) Info() SessionInfo {
	info := SessionInfo{
		ConnID:        s.ConnID,
		Effective:     s.Effective().String(),
		InTransaction: s.InTransaction(),
	}
	if info.InTransaction {
		info.Transaction = s.TransactionLevel().String()
	}
	return info
}

// List returns a view of every session ordered by ConnID
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*IsolationSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnID < infos[j].ConnID })
	return infos
}

// IsolationCounts groups sessions by the level their next transaction would use.
// Implements telemetry.IsolationStatsProvider.
func (r *SessionRegistry) IsolationCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, session := range r.sessions {
		counts[session.Effective().String()]++
	}
	return counts
}
