package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/marcaudefroy/hot-api-mock/pkg/dispatch"
	"github.com/marcaudefroy/hot-api-mock/pkg/history"
	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
	"github.com/marcaudefroy/hot-api-mock/pkg/proxy"
	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
	httpServer "github.com/marcaudefroy/hot-api-mock/pkg/server/http"
)

func TestUploadProto(t *testing.T) {
	dr := schema.NewDescriptorRegistry(nil)
	srv := httptest.NewServer(httpServer.NewServer(mocks.NewRegistry(), &history.DefaultRegistry{}, dr, nil))
	defer srv.Close()

	post := func(payload map[string]string) int {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+"/upload_proto", "application/json", bytes.NewReader(b))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	status := post(map[string]string{"filename": "health.proto", "content": `syntax = "proto3"; package scrutiny; message Health { bool success = 1; }`})
	require.Equal(t, http.StatusCreated, status)
	_, ok := dr.GetMessageDescriptor("scrutiny.Health")
	assert.True(t, ok)

	assert.Equal(t, http.StatusBadRequest, post(map[string]string{"filename": "bad.proto", "content": "syntax = nope"}))
	assert.Equal(t, http.StatusBadRequest, post(map[string]string{"filename": "empty.proto"}))

	status = post(map[string]string{"filename": "ok.proto", "content": `syntax = "proto3"; package p; message Ok { bool success = 1; }`})
	require.Equal(t, http.StatusCreated, status, "a rejected upload must not break later ones")
	_, ok = dr.GetMessageDescriptor("p.Ok")
	assert.True(t, ok)
}

func TestListMocks(t *testing.T) {
	mr := mocks.NewRegistry()
	require.NoError(t, mr.OnGet("/api/summary").Delay(50*time.Millisecond).ReplyStatic(200, nil))
	require.NoError(t, mr.OnPost("/api/settings").Schema("scrutiny.Settings").ReplyStatic(200, nil))

	srv := httptest.NewServer(httpServer.NewServer(mr, &history.DefaultRegistry{}, schema.NewDescriptorRegistry(nil), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mocks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var routes []httpServer.Route
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&routes))
	require.Len(t, routes, 2)
	assert.Equal(t, "GET", routes[0].Method)
	assert.Equal(t, "/api/summary", routes[0].Pattern)
	assert.Equal(t, int64(50), routes[0].DelayMs)
	assert.Equal(t, "scrutiny.Settings", routes[1].Schema)
	assert.Less(t, routes[0].Seq, routes[1].Seq)
}

func TestAddMock(t *testing.T) {
	mr := mocks.NewRegistry()
	require.NoError(t, mr.OnGet("/api/health").ReplyStatic(200, map[string]any{"ok": true}))

	srv := httptest.NewServer(httpServer.NewServer(mr, &history.DefaultRegistry{}, schema.NewDescriptorRegistry(nil), nil))
	defer srv.Close()

	payload := `{"method":"get","path":"/api/health","status":503,"body":{"ok":false}}`
	resp, err := http.Post(srv.URL+"/mocks", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	m, ok := mr.FindMatch(mocks.MethodGet, "/api/health")
	require.True(t, ok)
	rep, err := m.Registration.Reply(context.Background(), &mocks.Request{})
	require.NoError(t, err)
	assert.Equal(t, 503, rep.Status)
	assert.Equal(t, map[string]any{"ok": false}, rep.Body)
}

func TestAddMock_Invalid(t *testing.T) {
	srv := httptest.NewServer(httpServer.NewServer(mocks.NewRegistry(), &history.DefaultRegistry{}, schema.NewDescriptorRegistry(nil), nil))
	defer srv.Close()

	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{"method":`},
		{"unknown method", `{"method":"TRACE","path":"/x"}`},
		{"empty path", `{"method":"GET"}`},
		{"bad pattern", `{"method":"GET","path":"/a/*/b"}`},
		{"unknown schema", `{"method":"GET","path":"/api/health","schema":"nope.Missing"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/mocks", "application/json", bytes.NewBufferString(tc.payload))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAddMock_KnownSchema(t *testing.T) {
	dr := schema.NewDescriptorRegistry(nil)
	require.NoError(t, dr.RegisterProtoFile("health.proto", `syntax = "proto3"; package scrutiny; message Health { bool success = 1; }`))
	mr := mocks.NewRegistry()
	srv := httptest.NewServer(httpServer.NewServer(mr, &history.DefaultRegistry{}, dr, nil))
	defer srv.Close()

	payload := `{"method":"GET","path":"/api/health","body":{"success":true},"schema":"scrutiny.Health"}`
	resp, err := http.Post(srv.URL+"/mocks", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	m, ok := mr.FindMatch(mocks.MethodGet, "/api/health")
	require.True(t, ok)
	assert.Equal(t, "scrutiny.Health", m.Registration.Schema)
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header { return w.header }

func (w *brokenWriter) WriteHeader(int) {}

func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := httpServer.NewServer(mocks.NewRegistry(), &history.DefaultRegistry{}, schema.NewDescriptorRegistry(nil), zap.New(core))

	h.ServeHTTP(&brokenWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/history", nil))

	entries := logs.FilterMessage("write response failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "broken pipe", entries[0].ContextMap()["error"])
}

func TestHistoryEndpoints(t *testing.T) {
	hr := &history.DefaultRegistry{}
	hr.RegisterHistory(history.History{ID: "1", Request: history.Request{Method: "GET", URL: "/api/summary"}})

	srv := httptest.NewServer(httpServer.NewServer(mocks.NewRegistry(), hr, schema.NewDescriptorRegistry(nil), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/history")
	require.NoError(t, err)
	var hs []history.History
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hs))
	resp.Body.Close()
	require.Len(t, hs, 1)
	assert.Equal(t, "/api/summary", hs[0].Request.URL)

	resp, err = http.Get(srv.URL + "/history/clear")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/history/clear", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, hr.GetHistories())
}

func TestMockHandler(t *testing.T) {
	mr := mocks.NewRegistry()
	require.NoError(t, mr.OnPost("/api/echo/:id").Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
		return mocks.Reply{
			Status: http.StatusAccepted,
			Body:   map[string]string{"id": req.Param("id"), "body": string(req.Body)},
			Header: http.Header{"X-Trace": []string{"abc"}},
		}, nil
	}))
	require.NoError(t, mr.OnGet("/api/broken").Reply(func(context.Context, *mocks.Request) (mocks.Reply, error) {
		return mocks.Reply{}, errors.New("boom")
	}))

	rt := dispatch.New(mr, dispatch.WithNext(proxy.NotFound()))
	srv := httptest.NewServer(httpServer.MockHandler(rt, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/echo/42?x=1", "text/plain", bytes.NewBufferString("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "abc", resp.Header.Get("X-Trace"))
	assert.Equal(t, "/api/echo/:id", resp.Header.Get(dispatch.HeaderPattern))
	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, map[string]string{"id": "42", "body": "hello"}, got)

	resp2, err := http.Get(srv.URL + "/api/broken")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/api/unknown")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp3.Body)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
	assert.Contains(t, string(b), "error")
}
