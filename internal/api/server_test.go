package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hibiki-app/hibiki-go/internal/core"
	"github.com/hibiki-app/hibiki-go/internal/downloader"
	"github.com/hibiki-app/hibiki-go/internal/monitor"
	"github.com/hibiki-app/hibiki-go/internal/store"
	"github.com/hibiki-app/hibiki-go/internal/testutil"
)

// setupServer wires a full API server over an in-memory database. The
// orchestrator is not started, so enqueued requests stay pending and no
// network transfers happen.
func setupServer(t *testing.T) (*Server, *httptest.Server, *core.App) {
	t.Helper()

	app := testutil.SetupTestApp(t)
	st := store.New(app.DB())
	orch := downloader.NewOrchestrator(app.Config(), st, app.Bus(), app.Hub())
	mon := monitor.New(app.Config(), st, orch)

	server := NewServer(app, orch, mon)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return server, ts, app
}

func doJSON(t *testing.T, method, url string, payload interface{}) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}
