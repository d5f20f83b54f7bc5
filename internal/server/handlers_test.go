package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conjurehq/conjure/internal/engine"
	"github.com/conjurehq/conjure/internal/platform"
	"github.com/conjurehq/conjure/internal/registry"
	"github.com/conjurehq/conjure/internal/sandbox"
	"github.com/conjurehq/conjure/internal/store"
	"github.com/conjurehq/conjure/pkg/types"
)

const pingSource = `function run(ctx) return "pong" end`

func testServer(t *testing.T) *Server {
	t.Helper()
	backend := store.NewFileStore(t.TempDir())
	dispatcher := platform.NewLocalDispatcher()
	gateway := store.NewGateway(backend, types.StoreConfig{Retries: 1, RetryDelayMS: 1})
	reg := registry.New(dispatcher, gateway)
	sb := sandbox.New(types.SandboxConfig{TimeoutMS: 5000, Workers: 4})
	eng := engine.New(reg, sb, gateway, nil)

	cfg := DefaultConfig()
	cfg.EnableCORS = false
	return New(cfg, eng, dispatcher, backend)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterListInvoke(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/command", registerRequest{
		Name: "ping", Source: pingSource, Description: "pings",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[mutationResponse](t, rec)
	assert.True(t, resp.Persisted)

	rec = doJSON(t, s, http.MethodGet, "/tenant/t1/command", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Commands []types.CommandInfo `json:"commands"`
	}](t, rec)
	require.Len(t, list.Commands, 1)
	assert.Equal(t, "ping", list.Commands[0].Name)

	rec = doJSON(t, s, http.MethodPost, "/tenant/t1/command/ping/invoke", invokeRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := decode[types.ExecutionOutcome](t, rec)
	assert.Equal(t, types.OutcomeSuccess, outcome.Status)
	assert.Equal(t, "pong", outcome.Message)
}

func TestRegisterValidationFailure(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/command", registerRequest{
		Name: "bad", Source: `function run(ctx) dofile("x") end`,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)

	rec = doJSON(t, s, http.MethodGet, "/tenant/t1/command", nil)
	list := decode[struct {
		Commands []types.CommandInfo `json:"commands"`
	}](t, rec)
	assert.Empty(t, list.Commands)
}

func TestRegisterMissingFields(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/command", registerRequest{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenameFlow(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/command", registerRequest{
		Name: "ping", Source: pingSource,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/tenant/t1/command/ping/rename", renameRequest{To: "pong"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/tenant/t1/command/ping/invoke", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/tenant/t1/command/pong/invoke", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRemoveUnknown(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodDelete, "/tenant/t1/command/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestTenantCatalog(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/command", registerRequest{
		Name: "ping", Source: pingSource, Description: "pings",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/tenant/t1/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	catalog := decode[struct {
		Commands []types.CommandInfo `json:"commands"`
	}](t, rec)
	require.Len(t, catalog.Commands, 1)
	assert.Equal(t, "pings", catalog.Commands[0].Description)
}

func TestDescribeWithoutGenerator(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/describe", describeRequest{Request: "make a command"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProvisionUnsupported(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/tenant/t1/provision", provisionRequest{BinID: "bin-1"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEventStreamConnects(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/event", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "server.connected") {
			found = true
			break
		}
	}
	assert.True(t, found, "expected server.connected event")
}
