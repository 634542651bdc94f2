package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/fieldsync/pkg/page"
	"github.com/astromechza/fieldsync/pkg/update"
)

const waitFor = 5 * time.Second

func newPage() (*page.Memory, *update.Applier) {
	p := page.NewMemory()
	p.Add("status", page.KindText)
	p.Add("progressbar", page.KindProgress)
	p.Add("do_sum", page.KindButton)
	return p, update.NewApplier(p, update.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// pushServer streams every message sent on its channel to the first subscriber of a page.
type pushServer struct {
	pageID   string
	messages chan string
	hits     atomic.Int32
}

func newPushServer(pageID string) *pushServer {
	return &pushServer{pageID: pageID, messages: make(chan string, 16)}
}

func (s *pushServer) sse(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	if r.URL.Query().Get("pageid") != s.pageID {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-s.messages:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
			w.(http.Flusher).Flush()
		}
	}
}

func (s *pushServer) websocket(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for msg := range s.messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func waitState(t *testing.T, conn *Conn, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want }, waitFor, 10*time.Millisecond, "waiting for %s", want)
}

func TestLiveAppliesPushesInOrder(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()

	p, applier := newPage()
	var states []State
	var statesLock sync.Mutex
	client, err := NewClient(server.URL, applier, WithStateHook(func(pageID string, s State) {
		statesLock.Lock()
		defer statesLock.Unlock()
		states = append(states, s)
	}))
	require.NoError(t, err)

	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)
	waitState(t, conn, Open)

	push.messages <- `[["do_sum", {"disabled": true}], ["status", "working"]]`
	push.messages <- `"kwac"`
	push.messages <- `not json`
	push.messages <- `[["do_sum", {"disabled": false}], ["status", "ready"], ["progressbar", {"value": "100"}]]`

	require.Eventually(t, func() bool { return p.Field("progressbar").Value() == "100" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "ready", p.Field("status").Content())
	assert.False(t, p.Field("do_sum").Disabled())

	require.NoError(t, conn.Close())
	assert.Equal(t, Closed, conn.State())
	statesLock.Lock()
	assert.Equal(t, []State{Connecting, Open, Closed}, states)
	statesLock.Unlock()
}

func TestLiveMatchesBatchApplication(t *testing.T) {
	payload := `[["status", {"value": "ready", "disabled": false, "bgcolor": "green"}], ["progressbar", {"value": "100"}]]`

	direct, directApplier := newPage()
	batch, err := update.DecodeBatch([]byte(payload))
	require.NoError(t, err)
	directApplier.ApplyBatch(batch)

	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()
	pushed, pushedApplier := newPage()
	client, err := NewClient(server.URL, pushedApplier)
	require.NoError(t, err)
	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)
	defer conn.Close()

	push.messages <- payload
	require.Eventually(t, func() bool { return pushed.Field("progressbar").Value() == "100" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, direct.Snapshot(), pushed.Snapshot())
}

func TestLiveCloseStopsDelivery(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()

	p, applier := newPage()
	client, err := NewClient(server.URL, applier)
	require.NoError(t, err)
	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)
	waitState(t, conn, Open)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	push.messages <- `[["status", "late"]]`
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, p.Field("status").Content())
	select {
	case <-conn.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestLiveOnePerPage(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()

	_, applier := newPage()
	client, err := NewClient(server.URL, applier)
	require.NoError(t, err)

	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)
	_, err = client.Open(context.Background(), "page1")
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	require.NoError(t, conn.Close())
	again, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestLiveRejectedStreamIsTerminal(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()

	_, applier := newPage()
	client, err := NewClient(server.URL, applier, WithReconnect(ReconnectPolicy{Enabled: true, InitialInterval: time.Millisecond}))
	require.NoError(t, err)

	conn, err := client.Open(context.Background(), "other")
	require.NoError(t, err)

	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
	}
	assert.Equal(t, Closed, conn.State())
	assert.Equal(t, int32(1), push.hits.Load())
}

func TestLiveEndOfStreamClosesWithoutReconnect(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()

	p, applier := newPage()
	client, err := NewClient(server.URL, applier)
	require.NoError(t, err)
	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)

	push.messages <- `[["status", "last"]]`
	close(push.messages)

	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
	}
	assert.Equal(t, "last", p.Field("status").Content())
	assert.Equal(t, int32(1), push.hits.Load())
}

func TestLiveReconnects(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: [[\"status\", \"attempt %d\"]]\n\n", n)
	}))
	defer server.Close()

	p, applier := newPage()
	client, err := NewClient(server.URL, applier, WithReconnect(ReconnectPolicy{
		Enabled:         true,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}))
	require.NoError(t, err)
	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, waitFor, time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Contains(t, p.Field("status").Content(), "attempt")
}

func TestLiveReconnectGivesUp(t *testing.T) {
	_, applier := newPage()
	client, err := NewClient("http://127.0.0.1:1", applier, WithReconnect(ReconnectPolicy{
		Enabled:         true,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxAttempts:     2,
	}))
	require.NoError(t, err)
	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)

	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not give up")
	}
	assert.Equal(t, Closed, conn.State())
}

func TestLiveContextCancelCloses(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.sse))
	defer server.Close()

	_, applier := newPage()
	client, err := NewClient(server.URL, applier)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := client.Open(ctx, "page1")
	require.NoError(t, err)
	waitState(t, conn, Open)

	cancel()
	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
	}
}

func TestLiveWebsocketTransport(t *testing.T) {
	push := newPushServer("page1")
	server := httptest.NewServer(http.HandlerFunc(push.websocket))
	defer server.Close()

	p, applier := newPage()
	client, err := NewClient(server.URL, applier, WithTransport(TransportWebsocket))
	require.NoError(t, err)
	conn, err := client.Open(context.Background(), "page1")
	require.NoError(t, err)

	push.messages <- `[["status", "via websocket"]]`
	push.messages <- `[["progressbar", 42]]`
	close(push.messages)

	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
	}
	assert.Equal(t, "via websocket", p.Field("status").Content())
	assert.Equal(t, "42", p.Field("progressbar").Value())
}

func TestNewClientRejectsUnknownTransport(t *testing.T) {
	_, applier := newPage()
	_, err := NewClient("http://localhost", applier, WithTransport("carrier-pigeon"))
	assert.Error(t, err)
}
