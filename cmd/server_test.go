//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/labelmatch/internal/resilience"
	"github.com/sells-group/labelmatch/internal/resolver"
	"github.com/sells-group/labelmatch/internal/store"
)

func newTestEnv(t *testing.T, withStore bool) *resolverEnv {
	t.Helper()
	env := &resolverEnv{Breakers: resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())}
	var opts []resolver.Option
	if withStore {
		st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		require.NoError(t, st.Migrate(context.Background()))
		t.Cleanup(func() { _ = st.Close() })
		env.Store = st
		opts = append(opts, resolver.WithStore(st), resolver.WithSource("api"))
	}
	env.Resolver = resolver.New(testRecords, opts...)
	return env
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.Breakers.Get("ollama")
	h := newRouter(env)

	rr := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body struct {
		Status     string                    `json:"status"`
		Recipients int                       `json:"recipients"`
		Store      bool                      `json:"store"`
		Breakers   []resilience.ServiceState `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, len(testRecords), body.Recipients)
	assert.False(t, body.Store)
	assert.Equal(t, []resilience.ServiceState{{Service: "ollama", State: "closed"}}, body.Breakers)
}

func TestResolveEndpoint(t *testing.T) {
	h := newRouter(newTestEnv(t, false))

	rr := doJSON(t, h, http.MethodPost, "/v1/resolve", map[string]any{
		"texts":   sampleLabels[:2],
		"explain": 2,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var rep batchReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 2, rep.Labels)
	assert.Equal(t, 2, rep.Matched)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, "Zoey Dong", rep.Results[0].Identity.Name)
	assert.Equal(t, "r-1", rep.Results[0].Match.Record.RecipientID)
	require.Len(t, rep.Results[0].Ranking, 2)
	assert.Equal(t, "r-1", rep.Results[0].Ranking[0].Record.RecipientID)
	assert.Equal(t, "r-3", rep.Results[0].Ranking[1].Record.RecipientID)
	assert.Equal(t, "r-2", rep.Results[1].Match.Record.RecipientID)
}

func TestResolveEndpoint_BadRequests(t *testing.T) {
	h := newRouter(newTestEnv(t, false))

	req := httptest.NewRequest(http.MethodPost, "/v1/resolve", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")

	rr = doJSON(t, h, http.MethodPost, "/v1/resolve", map[string]any{"texts": []string{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "texts is required")

	rr = doJSON(t, h, http.MethodPost, "/v1/resolve", map[string]any{"texts": make([]string, maxLabelsPerCall+1)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "too many texts")
}

func TestMatchEndpoint(t *testing.T) {
	h := newRouter(newTestEnv(t, false))

	rr := doJSON(t, h, http.MethodPost, "/v1/match", map[string]any{
		"name":    "Lalarry Andersan",
		"explain": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp matchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Result.Matched())
	assert.Equal(t, "r-4", resp.Result.Record.RecipientID)
	require.Len(t, resp.Ranking, 1)
	assert.Equal(t, "r-4", resp.Ranking[0].Record.RecipientID)
}

func TestMatchEndpoint_NoName(t *testing.T) {
	h := newRouter(newTestEnv(t, false))

	rr := doJSON(t, h, http.MethodPost, "/v1/match", map[string]any{
		"address": "2821 carradale dr roseville ca 95661",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp matchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Matched())
	assert.Equal(t, "no_name", resp.Result.Method)
	assert.Empty(t, resp.Ranking)
}

func TestRunsEndpoints(t *testing.T) {
	env := newTestEnv(t, true)
	h := newRouter(env)

	rr := doJSON(t, h, http.MethodPost, "/v1/resolve", map[string]any{"texts": sampleLabels})
	require.Equal(t, http.StatusOK, rr.Code)
	var rep batchReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))

	rr = doJSON(t, h, http.MethodGet, "/v1/runs?status=complete&limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, rep.RunID, list.Runs[0].ID)
	assert.Equal(t, len(sampleLabels), list.Runs[0].Labels)

	rr = doJSON(t, h, http.MethodGet, "/v1/runs/"+rep.RunID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		Run      store.Run       `json:"run"`
		Outcomes []store.Outcome `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, "api", detail.Run.Source)
	require.Len(t, detail.Outcomes, len(sampleLabels))
	assert.Equal(t, "r-1", detail.Outcomes[0].RecipientID)

	rr = doJSON(t, h, http.MethodGet, "/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunsEndpoints_StoreDisabled(t *testing.T) {
	h := newRouter(newTestEnv(t, false))

	rr := doJSON(t, h, http.MethodGet, "/v1/runs", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	rr = doJSON(t, h, http.MethodGet, "/v1/runs/abc", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newRouter(newTestEnv(t, false))

	req := httptest.NewRequest(http.MethodOptions, "/v1/resolve", nil)
	req.Header.Set("Origin", "https://labels.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
