package admin

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/protocol"
	"github.com/rs/zerolog/log"
)

// LevelInfo describes one isolation level
type LevelInfo struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	MySQLValue string `json:"mysql_value"`
}

// DefaultInfo describes the server default
type DefaultInfo struct {
	Level     string `json:"level"`
	Effective string `json:"effective"`
	ReadOnly  bool   `json:"read_only"`
}

// ParseResult is the response body of /isolation/parse
type ParseResult struct {
	Level     string `json:"level"`
	Scope     string `json:"scope"`
	ReadOnly  *bool  `json:"read_only,omitempty"`
	Statement string `json:"statement,omitempty"`
}

type setDefaultRequest struct {
	Level    string `json:"level"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

type parseRequest struct {
	SQL string `json:"sql"`
}

func levelName(level common.IsolationLevel) string {
	return strings.ReplaceAll(level.String(), " ", "_")
}

func (h *AdminHandlers) defaultInfo() DefaultInfo {
	return DefaultInfo{
		Level:     h.server.Level().String(),
		Effective: h.server.EffectiveLevel().String(),
		ReadOnly:  h.server.ReadOnly(),
	}
}

// handleListLevels handles GET /isolation/levels
func (h *AdminHandlers) handleListLevels(w http.ResponseWriter, r *http.Request) {
	levels := common.IsolationLevels()
	infos := make([]LevelInfo, 0, len(levels))
	for _, level := range levels {
		infos = append(infos, LevelInfo{
			Name:       levelName(level),
			Label:      level.String(),
			MySQLValue: level.MySQLValue(),
		})
	}
	writeJSONResponse(w, infos)
}

// handleGetDefault handles GET /isolation/default
func (h *AdminHandlers) handleGetDefault(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.defaultInfo())
}

// handleSetDefault handles PUT /isolation/default
func (h *AdminHandlers) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	var req setDefaultRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	level, err := common.ParseIsolationLevel(req.Level)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.server.SetLevel(level); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ReadOnly != nil {
		h.server.SetReadOnly(*req.ReadOnly)
	}

	log.Info().
		Str("isolation", level.String()).
		Bool("read_only", h.server.ReadOnly()).
		Msg("Server default isolation changed via admin")

	writeJSONResponse(w, h.defaultInfo())
}

// handleParse handles POST /isolation/parse
func (h *AdminHandlers) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "sql is required")
		return
	}

	setting, err := protocol.ParseIsolationStatement(req.SQL)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result := ParseResult{
		Level:    setting.Level.String(),
		Scope:    setting.Scope.String(),
		ReadOnly: setting.ReadOnly,
	}
	if setting.Level != common.IsolationUnspecified {
		// Canonical rendering of the same assignment
		if stmt, err := protocol.FormatSetTransaction(setting.Level, setting.Scope); err == nil {
			result.Statement = stmt
		}
	}

	writeJSONResponse(w, result)
}
