package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/engine"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/models"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *engine.Engine, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0).UTC())

	reg := prometheus.NewRegistry()
	e, err := engine.Open(t.TempDir(),
		engine.WithClock(clk),
		engine.WithPrometheusRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	srv := httptest.NewServer(NewHandler(e, reg, opts...))
	t.Cleanup(srv.Close)
	return srv, e, clk
}

func writeEvent(t *testing.T, e *engine.Engine, clk *clock.Mock, index, msg string) string {
	t.Helper()
	clk.Add(time.Second)
	id, err := e.WriteEvent(context.Background(), index, []models.EventField{
		{Name: models.DefaultField, Type: field.TypeText, Value: models.Text(msg)},
		{Name: models.HostnameField, Type: field.TypeIdentity, Value: models.Text("web-01")},
		{Name: models.InputField, Type: field.TypeIdentity, Value: models.Text("syslog")},
	})
	require.NoError(t, err)
	return id.String()
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestIterEndpoint(t *testing.T) {
	srv, e, clk := newTestServer(t)
	id1 := writeEvent(t, e, clk, "main", "connection refused")
	writeEvent(t, e, clk, "main", "disk full")

	resp, body := postJSON(t, srv.URL+"/api/v1/iter", map[string]interface{}{
		"query": "connection",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 2)

	meta := rows[0]
	assert.Contains(t, meta, "runtime")
	assert.Contains(t, meta, "fields")

	row := rows[1]
	assert.Equal(t, id1, row["id"])
	assert.Equal(t, "connection refused", row["message"])
	assert.Equal(t, "web-01", row["hostname"])
	assert.NotZero(t, row["ts"])
}

func TestIterFaultCodes(t *testing.T) {
	srv, e, clk := newTestServer(t)
	writeEvent(t, e, clk, "main", "hello world")

	resp, body := postJSON(t, srv.URL+"/api/v1/iter", map[string]interface{}{
		"query": "AND AND",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var fault errorBody
	require.NoError(t, json.Unmarshal(body, &fault))
	assert.Equal(t, 1002, fault.Code)
	assert.NotEmpty(t, fault.Error)

	resp, body = postJSON(t, srv.URL+"/api/v1/iter", map[string]interface{}{
		"indexes": []string{"nope"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &fault))
	assert.Equal(t, 1002, fault.Code)
}

func TestTailEndpoint(t *testing.T) {
	srv, e, clk := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/tail", map[string]interface{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)
	cursor, _ := rows[0]["lastId"].(string)
	require.NotEmpty(t, cursor)

	id := writeEvent(t, e, clk, "main", "fresh event")
	resp, body = postJSON(t, srv.URL+"/api/v1/tail", map[string]interface{}{
		"lastId": cursor,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, id, rows[0]["lastId"])
	assert.Equal(t, id, rows[1]["id"])
}

func TestWriteEventEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/indices/main/events", writeEventRequest{
		Fields: []writeEventField{
			{Name: "message", Type: "text", Value: "posted over http"},
			{Name: "hostname", Type: "identity", Value: "web-02"},
			{Name: "input", Type: "identity", Value: "api"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Len(t, created["id"], 24)

	resp, body = postJSON(t, srv.URL+"/api/v1/iter", map[string]interface{}{
		"query": "posted",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, created["id"], rows[1]["id"])
}

func TestWriteEventValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Missing the required fields.
	resp, body := postJSON(t, srv.URL+"/api/v1/indices/main/events", writeEventRequest{
		Fields: []writeEventField{{Name: "message", Type: "text", Value: "alone"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var fault errorBody
	require.NoError(t, json.Unmarshal(body, &fault))
	assert.Equal(t, 1002, fault.Code)
}

func TestListAndShowEndpoints(t *testing.T) {
	srv, e, clk := newTestServer(t)
	writeEvent(t, e, clk, "main", "hello world")
	writeEvent(t, e, clk, "audit", "login ok")

	resp, body := getJSON(t, srv.URL+"/api/v1/indices")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []interface{}
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "audit", rows[1])
	assert.Equal(t, "main", rows[2])

	resp, body = getJSON(t, srv.URL+"/api/v1/indices/main")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var show []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &show))
	require.NotEmpty(t, show)
	assert.Equal(t, "main", show[0]["name"])
	assert.NotZero(t, show[0]["size"])
	names := []string{}
	for _, f := range show[1:] {
		names = append(names, fmt.Sprint(f["name"]))
	}
	assert.ElementsMatch(t, []string{"message", "hostname", "input"}, names)

	resp, _ = getJSON(t, srv.URL+"/api/v1/indices/nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthToken(t *testing.T) {
	srv, e, clk := newTestServer(t, WithAuthToken("secret"))
	writeEvent(t, e, clk, "main", "hello world")

	resp, body := postJSON(t, srv.URL+"/api/v1/iter", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var fault errorBody
	require.NoError(t, json.Unmarshal(body, &fault))
	assert.Equal(t, 1003, fault.Code)

	req, err := http.NewRequest("POST", srv.URL+"/api/v1/iter", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	// Health stays open.
	resp3, _ := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, e, clk := newTestServer(t)
	writeEvent(t, e, clk, "main", "hello world")

	resp, body := getJSON(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = getJSON(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "logsift_engine_events_written_total")
}
