package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/supervisor"
)

// fakeOpenSearch is a minimal stand-in for OpenSearch's HTTP surface: it
// answers the liveness check New() makes, Indices.Exists/create for
// EnsureIndex, and the bulk endpoint Report uses, recording what it saw so
// tests can assert on it without a real cluster.
type fakeOpenSearch struct {
	indexExists bool
	bulkBodies  [][]byte
	createCalls int
}

func newFakeOpenSearch(t *testing.T, state *fakeOpenSearch) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/" && r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{"version": map[string]any{"number": "2.3.0"}})
		case r.URL.Path == "/indexcore-dashboard":
			switch r.Method {
			case http.MethodHead:
				if state.indexExists {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusNotFound)
				}
			case http.MethodPut:
				state.createCalls++
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(map[string]any{"acknowledged": true})
			}
		case r.URL.Path == "/_bulk":
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			state.bulkBodies = append(state.bulkBodies, body)
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"errors": false,
				"items": []any{
					map[string]any{"index": map[string]any{"_id": "1", "result": "created", "status": 201}},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return httptest.NewServer(mux)
}

func TestReporter_EnsureIndexCreatesWhenMissing(t *testing.T) {
	state := &fakeOpenSearch{indexExists: false}
	srv := newFakeOpenSearch(t, state)
	defer srv.Close()

	r, err := New(Config{Hosts: []string{srv.URL}, Index: "indexcore-dashboard"})
	require.NoError(t, err)

	require.NoError(t, r.EnsureIndex(context.Background()))
	assert.Equal(t, 1, state.createCalls)
}

func TestReporter_EnsureIndexSkipsWhenPresent(t *testing.T) {
	state := &fakeOpenSearch{indexExists: true}
	srv := newFakeOpenSearch(t, state)
	defer srv.Close()

	r, err := New(Config{Hosts: []string{srv.URL}, Index: "indexcore-dashboard"})
	require.NoError(t, err)

	require.NoError(t, r.EnsureIndex(context.Background()))
	assert.Equal(t, 0, state.createCalls)
}

func TestReporter_ReportPublishesStatisticsAndLevels(t *testing.T) {
	state := &fakeOpenSearch{indexExists: true}
	srv := newFakeOpenSearch(t, state)
	defer srv.Close()

	r, err := New(Config{Hosts: []string{srv.URL}, Index: "indexcore-dashboard"})
	require.NoError(t, err)

	stats := supervisor.Statistics{
		Generation:         1,
		NumValidDocs:       10,
		NumSplitsEmitted:   2,
		NumUploadedSplits:  2,
		NumPublishedSplits: 2,
	}
	policy := mergepolicy.New(mergepolicy.DefaultConfig())

	err = r.Report(context.Background(), "idx", "src", stats, policy, nil)
	require.NoError(t, err)

	require.Len(t, state.bulkBodies, 1)
	assert.False(t, r.LastReport().IsZero())
}
