package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeweld/internal/core"
)

const trivialPipeline = `
name: trivial
stages:
  - name: Hello
    steps:
      - run: echo hello
`

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(t.TempDir(), t.TempDir(), "", logger)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func submit(t *testing.T, srv *httptest.Server, def string) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/pipelines", "application/x-yaml", strings.NewReader(def))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["id"])
	return body["id"]
}

func runState(t *testing.T, srv *httptest.Server, id string) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/pipelines/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["state"]
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitAndPoll(t *testing.T) {
	srv := testServer(t)
	id := submit(t, srv, trivialPipeline)

	require.Eventually(t, func() bool {
		return core.RunState(runState(t, srv, id)).Terminal()
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, string(core.RunSucceeded), runState(t, srv, id))
}

func TestStagesEndpoint(t *testing.T) {
	srv := testServer(t)
	id := submit(t, srv, trivialPipeline)

	require.Eventually(t, func() bool {
		return core.RunState(runState(t, srv, id)).Terminal()
	}, 10*time.Second, 50*time.Millisecond)

	resp, err := http.Get(srv.URL + "/pipelines/" + id + "/stages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res core.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, id, res.RunID)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, "Hello", res.Stages[0].Name)
	assert.Equal(t, core.StatusSuccess, res.Stages[0].Status)
}

func TestSubmitRejectsInvalidDefinition(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/pipelines", "application/x-yaml", strings.NewReader("name: broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRun(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/pipelines/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	srv := testServer(t)
	id := submit(t, srv, trivialPipeline)

	resp, err := http.Get(srv.URL + "/pipelines")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
}
