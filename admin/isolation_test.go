package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maxpert/isolevel/cfg"
	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *protocol.ServerIsolation, *protocol.SessionRegistry) {
	t.Helper()
	server := protocol.NewServerIsolation(common.IsolationRepeatableRead, false)
	sessions := protocol.NewSessionRegistry()

	mux := http.NewServeMux()
	RegisterRoutes(mux, NewAdminHandlers(server, sessions))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, server, sessions
}

func do(t *testing.T, method, url, body string, headers map[string]string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func withSecret(t *testing.T, secret string) {
	t.Helper()
	old := cfg.Config.Admin.Secret
	cfg.Config.Admin.Secret = secret
	t.Cleanup(func() { cfg.Config.Admin.Secret = old })
}

func TestListLevels(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := do(t, http.MethodGet, ts.URL+"/admin/isolation/levels", "", nil)
	require.Equal(t, http.StatusOK, status)

	var levels []LevelInfo
	require.NoError(t, json.Unmarshal(env.Data, &levels))
	require.Len(t, levels, 5)

	assert.Equal(t, LevelInfo{Name: "UNSPECIFIED", Label: "UNSPECIFIED", MySQLValue: ""}, levels[0])
	assert.Equal(t, LevelInfo{Name: "READ_UNCOMMITTED", Label: "READ UNCOMMITTED", MySQLValue: "READ-UNCOMMITTED"}, levels[1])
	assert.Equal(t, LevelInfo{Name: "READ_COMMITTED", Label: "READ COMMITTED", MySQLValue: "READ-COMMITTED"}, levels[2])
	assert.Equal(t, LevelInfo{Name: "REPEATABLE_READ", Label: "REPEATABLE READ", MySQLValue: "REPEATABLE-READ"}, levels[3])
	assert.Equal(t, LevelInfo{Name: "SERIALIZABLE", Label: "SERIALIZABLE", MySQLValue: "SERIALIZABLE"}, levels[4])
}

func TestDefaultGetAndPut(t *testing.T) {
	ts, server, _ := newTestServer(t)

	status, env := do(t, http.MethodGet, ts.URL+"/admin/isolation/default", "", nil)
	require.Equal(t, http.StatusOK, status)
	var info DefaultInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "REPEATABLE READ", info.Level)

	status, env = do(t, http.MethodPut, ts.URL+"/admin/isolation/default", `{"level":"read-committed","read_only":true}`, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, DefaultInfo{Level: "READ COMMITTED", Effective: "READ COMMITTED", ReadOnly: true}, info)
	assert.Equal(t, common.IsolationReadCommitted, server.Level())
	assert.True(t, server.ReadOnly())

	status, env = do(t, http.MethodPut, ts.URL+"/admin/isolation/default", `{"level":""}`, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "UNSPECIFIED", info.Level)
	assert.Equal(t, "REPEATABLE READ", info.Effective)
}

func TestDefaultPutRejectsBadInput(t *testing.T) {
	ts, server, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown level", `{"level":"snapshot"}`},
		{"malformed json", `{"level":`},
		{"unknown field", `{"isolation":"serializable"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, http.MethodPut, ts.URL+"/admin/isolation/default", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, env.Error)
		})
	}

	assert.Equal(t, common.IsolationRepeatableRead, server.Level())
}

func TestParse(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := do(t, http.MethodPost, ts.URL+"/admin/isolation/parse",
		`{"sql":"SET SESSION TRANSACTION ISOLATION LEVEL SERIALIZABLE"}`, nil)
	require.Equal(t, http.StatusOK, status)

	var result ParseResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "SERIALIZABLE", result.Level)
	assert.Equal(t, "SESSION", result.Scope)
	assert.Nil(t, result.ReadOnly)
	assert.Equal(t, "SET SESSION TRANSACTION ISOLATION LEVEL SERIALIZABLE", result.Statement)

	status, env = do(t, http.MethodPost, ts.URL+"/admin/isolation/parse",
		`{"sql":"SET TRANSACTION READ ONLY"}`, nil)
	require.Equal(t, http.StatusOK, status)

	var second ParseResult
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Equal(t, "UNSPECIFIED", second.Level)
	assert.Equal(t, "NEXT_TRANSACTION", second.Scope)
	require.NotNil(t, second.ReadOnly)
	assert.True(t, *second.ReadOnly)
	assert.Empty(t, second.Statement)
}

func TestParseRejectsBadInput(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, body := range []string{
		`{"sql":"SELECT 1"}`,
		`{"sql":"SET TRANSACTION ISOLATION LEVEL"}`,
		`{"sql":""}`,
		`not json`,
	} {
		status, env := do(t, http.MethodPost, ts.URL+"/admin/isolation/parse", body, nil)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.NotEmpty(t, env.Error, body)
	}
}

func TestListSessions(t *testing.T) {
	ts, server, sessions := newTestServer(t)

	second := protocol.NewIsolationSession(2, server)
	first := protocol.NewIsolationSession(1, server)
	sessions.Register(second)
	sessions.Register(first)
	_, err := second.Begin()
	require.NoError(t, err)

	status, env := do(t, http.MethodGet, ts.URL+"/admin/isolation/sessions", "", nil)
	require.Equal(t, http.StatusOK, status)

	var infos []protocol.SessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(1), infos[0].ConnID)
	assert.False(t, infos[0].InTransaction)
	assert.Equal(t, uint64(2), infos[1].ConnID)
	assert.True(t, infos[1].InTransaction)
	assert.Equal(t, "REPEATABLE READ", infos[1].Transaction)
}

func TestAuthMiddleware(t *testing.T) {
	ts, _, _ := newTestServer(t)
	withSecret(t, "s3cret")
	url := ts.URL + "/admin/isolation/levels"

	tests := []struct {
		name     string
		headers  map[string]string
		expected int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"secret header", map[string]string{"X-Isolevel-Secret": "s3cret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"wrong secret", map[string]string{"X-Isolevel-Secret": "nope"}, http.StatusUnauthorized},
		{"bad scheme", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := do(t, http.MethodGet, url, "", tt.headers)
			assert.Equal(t, tt.expected, status)
		})
	}
}
