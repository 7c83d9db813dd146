package admin

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/protocol"
	"github.com/rs/zerolog/log"
)

const msgpackContentType = "application/msgpack"

// SessionDetail is one session plus its open transaction buffer
type SessionDetail struct {
	protocol.SessionInfo
	Statements []string `json:"statements,omitempty"`
	HasWrites  bool     `json:"has_writes"`
}

type statementRequest struct {
	SQL string `json:"sql"`
}

func sessionDetail(session *protocol.IsolationSession) SessionDetail {
	detail := SessionDetail{SessionInfo: session.Info()}
	if txn := session.CurrentTransaction(); txn != nil {
		for _, stmt := range txn.GetStatements() {
			detail.Statements = append(detail.Statements, stmt.SQL)
		}
		detail.HasWrites = txn.HasWrites()
	}
	return detail
}

// lookupSession resolves the {connID} URL parameter, writing an error response when it fails
func (h *AdminHandlers) lookupSession(w http.ResponseWriter, r *http.Request) (*protocol.IsolationSession, bool) {
	connID, err := strconv.ParseUint(chi.URLParam(r, "connID"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid connection id")
		return nil, false
	}

	session, ok := h.sessions.Get(connID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("session %d not found", connID))
		return nil, false
	}
	return session, true
}

// handleListSessions handles GET /isolation/sessions
func (h *AdminHandlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.sessions.List())
}

// handleOpenSession handles POST /isolation/sessions
func (h *AdminHandlers) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Open(h.server)
	log.Debug().Uint64("conn_id", session.ConnID).Msg("Session opened via admin")
	writeJSONResponse(w, sessionDetail(session))
}

// handleGetSession handles GET /isolation/sessions/{connID}
func (h *AdminHandlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, sessionDetail(session))
}

// handleExecStatement handles POST /isolation/sessions/{connID}/statements
func (h *AdminHandlers) handleExecStatement(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req statementRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "sql is required")
		return
	}

	if err := session.Exec(protocol.ParseStatement(req.SQL)); err != nil {
		writeErrorResponse(w, http.StatusUnprocessableEntity, protocol.ConvertToMySQLError(err).Error())
		return
	}
	writeJSONResponse(w, sessionDetail(session))
}

// handleCloseSession handles DELETE /isolation/sessions/{connID}.
// An open transaction is rolled back.
func (h *AdminHandlers) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	if session.InTransaction() {
		if err := session.Exec(protocol.Statement{Type: common.StatementRollback}); err != nil {
			log.Warn().Err(err).Uint64("conn_id", session.ConnID).Msg("Rollback on session close failed")
		}
	}
	h.sessions.Unregister(session.ConnID)

	log.Debug().Uint64("conn_id", session.ConnID).Msg("Session closed via admin")
	writeJSONResponse(w, session.Info())
}

// handleSnapshotSession handles GET /isolation/sessions/{connID}/snapshot
func (h *AdminHandlers) handleSnapshotSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	data, err := session.Snapshot()
	if err != nil {
		writeErrorResponse(w, http.StatusConflict, protocol.ConvertToMySQLError(err).Error())
		return
	}

	w.Header().Set("Content-Type", msgpackContentType)
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write session snapshot")
	}
}

// handleRestoreSession handles POST /isolation/sessions/restore with a msgpack snapshot body
func (h *AdminHandlers) handleRestoreSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	session, err := protocol.RestoreIsolationSession(data, h.server)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.sessions.TryRegister(session) {
		writeErrorResponse(w, http.StatusConflict, fmt.Sprintf("session %d already exists", session.ConnID))
		return
	}

	log.Debug().Uint64("conn_id", session.ConnID).Msg("Session restored via admin")
	writeJSONResponse(w, sessionDetail(session))
}
