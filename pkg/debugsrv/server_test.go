package debugsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtui/strand/pkg/conn"
	"github.com/strandtui/strand/pkg/store"
	"github.com/strandtui/strand/pkg/wire"
)

type fakeSource struct {
	hub   *conn.Hub[wire.ControlMessage]
	state conn.State
}

func newFakeSource() *fakeSource {
	return &fakeSource{hub: conn.NewHub[wire.ControlMessage](), state: conn.Connected}
}

func (f *fakeSource) Messages() (<-chan wire.ControlMessage, func()) {
	return f.hub.Subscribe()
}

func (f *fakeSource) State() conn.State { return f.state }

func seededStore() *store.Store {
	st := store.New()
	st.UpsertThread(store.Thread{ID: "t-1", Title: "First", UpdatedAt: time.Unix(100, 0)})
	st.AddStreamingMessage("t-1", "hello")
	return st
}

func TestHealthz(t *testing.T) {
	srv := New("127.0.0.1:0", seededStore(), newFakeSource())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["connection"])
	assert.Equal(t, float64(1), body["threads"])
}

func TestHealthzDetached(t *testing.T) {
	srv := New("127.0.0.1:0", store.New(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "detached", body["connection"])
}

func TestThreadsSnapshot(t *testing.T) {
	srv := New("127.0.0.1:0", seededStore(), newFakeSource())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/threads", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Threads []store.Thread `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Threads, 1)
	assert.Equal(t, "t-1", body.Threads[0].ID)
}

func TestMessagesSnapshot(t *testing.T) {
	srv := New("127.0.0.1:0", seededStore(), newFakeSource())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/threads/t-1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ThreadID string          `json:"thread_id"`
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "t-1", body.ThreadID)
	assert.NotEmpty(t, body.Messages)
}

func TestMessagesUnknownThread(t *testing.T) {
	srv := New("127.0.0.1:0", seededStore(), newFakeSource())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/threads/nope/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New("127.0.0.1:0", store.New(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestEventRelay(t *testing.T) {
	source := newFakeSource()
	srv := New("127.0.0.1:0", store.New(), source)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// The handler subscribes asynchronously; keep publishing until the relay
	// picks one up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				source.hub.Publish(wire.Connected{SessionID: "s-1", Timestamp: 7})
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type    string         `json:"type"`
		Message wire.Connected `json:"message"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "connected", frame.Type)
	assert.Equal(t, "s-1", frame.Message.SessionID)
}

func TestEventRelayWithoutSource(t *testing.T) {
	srv := New("127.0.0.1:0", store.New(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
