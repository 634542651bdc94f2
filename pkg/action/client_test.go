package action

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/fieldsync/pkg/page"
	"github.com/astromechza/fieldsync/pkg/update"
)

type harness struct {
	page   *page.Memory
	alerts *page.RecordingNotifier
	client *Client
}

func newHarness(t *testing.T, handler http.HandlerFunc, opts ...Option) *harness {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	h := &harness{page: page.NewMemory(), alerts: new(page.RecordingNotifier)}
	h.page.Add("zoom_left", page.KindInput)
	h.page.Add("do_sum", page.KindButton)
	h.page.Add("answer", page.KindText)
	h.page.Add("status", page.KindText)
	h.page.Add("progressbar", page.KindProgress)
	applier := update.NewApplier(h.page,
		update.WithNotifier(h.alerts),
		update.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	c, err := NewClient(server.URL, applier, opts...)
	require.NoError(t, err)
	h.client = c
	return h
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestDispatchShorthandValue(t *testing.T) {
	var query string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		assert.Equal(t, "/field_update", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))
		respondJSON(`{"OK": true, "value": "0.5"}`)(w, r)
	})

	require.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("float", "0.50")))

	assert.Equal(t, "id=zoom_left&t=float&v=0.50", query)
	assert.Equal(t, "0.5", h.page.Field("zoom_left").Value())
	assert.False(t, h.page.Field("zoom_left").Disabled())
	assert.Empty(t, h.alerts.Messages())
}

func TestDispatchDisablesBeforeResponse(t *testing.T) {
	release := make(chan struct{})
	seen := make(chan bool, 1)
	var h *harness
	h = newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- h.page.Field("do_sum").Disabled()
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	})

	done := make(chan error, 1)
	go func() { done <- h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")) }()

	select {
	case disabled := <-seen:
		assert.True(t, disabled)
	case <-time.After(5 * time.Second):
		t.Fatal("request never arrived")
	}
	assert.ErrorIs(t, h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")), ErrOriginDisabled)
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch never returned")
	}
	assert.False(t, h.page.Field("do_sum").Disabled())
	assert.Equal(t, []string{"HTTP-Error: 500 Internal Server Error"}, h.alerts.Messages())
}

func TestDispatchBatchDoesNotAutoEnable(t *testing.T) {
	var body map[string]any
	var method string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		assert.Equal(t, "application/json; charset=UTF-8", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		respondJSON(`[["status", {"value": "ready", "disabled": false}], ["progressbar", {"value": "100"}]]`)(w, r)
	})

	require.NoError(t, h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")))

	assert.Equal(t, MethodRequest, method)
	assert.Equal(t, map[string]any{"id": "do_sum", "action": "do_sum"}, body)
	assert.Equal(t, "ready", h.page.Field("status").Content())
	assert.False(t, h.page.Field("status").Disabled())
	assert.Equal(t, "100", h.page.Field("progressbar").Value())
	assert.True(t, h.page.Field("do_sum").Disabled())
}

func TestDispatchBatchCanReEnableOrigin(t *testing.T) {
	h := newHarness(t, respondJSON(`[["answer", {"value": "4"}], ["do_sum", {"disabled": false}]]`))

	require.NoError(t, h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")))

	assert.Equal(t, "4", h.page.Field("answer").Content())
	assert.False(t, h.page.Field("do_sum").Disabled())
}

func TestDispatchUpdatesEnvelope(t *testing.T) {
	h := newHarness(t, respondJSON(`{"OK": true, "updates": [["answer", "9"]]}`))

	require.NoError(t, h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")))

	assert.Equal(t, "9", h.page.Field("answer").Content())
}

func TestDispatchLogicalFailure(t *testing.T) {
	h := newHarness(t, respondJSON(`{"OK": false, "fail": "I'm sorry Dave"}`))

	require.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("float", "abc")))

	assert.Equal(t, []string{"I'm sorry Dave"}, h.alerts.Messages())
	assert.False(t, h.page.Field("zoom_left").Disabled())
}

func TestDispatchTransportFailures(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unknown field", http.StatusBadRequest)
		},
		"malformed body": respondJSON(`{"value": 1}`),
		"not json":       respondJSON(`<html>`),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, handler)

			assert.NotPanics(t, func() {
				assert.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("int", "1")))
			})

			require.Len(t, h.alerts.Messages(), 1)
			assert.False(t, h.page.Field("zoom_left").Disabled())
		})
	}
}

func TestDispatchStatusAlertText(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	require.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("int", "1")))

	assert.Equal(t, []string{"HTTP-Error: 403 Forbidden"}, h.alerts.Messages())
}

func TestDispatchNetworkFailure(t *testing.T) {
	h := newHarness(t, respondJSON(`[]`))
	h.client.baseURL.Host = "127.0.0.1:1"

	require.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("int", "1")))

	require.Len(t, h.alerts.Messages(), 1)
	assert.Contains(t, h.alerts.Messages()[0], "HTTP-Error")
	assert.False(t, h.page.Field("zoom_left").Disabled())
}

func TestDispatchTimeout(t *testing.T) {
	unblock := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(unblock)

	require.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("int", "1")))

	require.Len(t, h.alerts.Messages(), 1)
	assert.False(t, h.page.Field("zoom_left").Disabled())
}

func TestDispatchNoContentAndSentinelReEnable(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"no content": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
		"sentinel":   respondJSON(`"kwac"`),
		"bare ok":    respondJSON(`{"OK": true}`),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, handler)
			before := h.page.Field("answer").State()

			require.NoError(t, h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")))

			assert.False(t, h.page.Field("do_sum").Disabled())
			assert.Equal(t, before, h.page.Field("answer").State())
			assert.Empty(t, h.alerts.Messages())
		})
	}
}

func TestDispatchPreconditions(t *testing.T) {
	calls := 0
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	assert.ErrorIs(t, h.client.Dispatch(context.Background(), "ghost", Action("x")), ErrOriginNotFound)
	h.page.Field("do_sum").SetDisabled(true)
	assert.ErrorIs(t, h.client.Dispatch(context.Background(), "do_sum", Action("x")), ErrOriginDisabled)
	assert.Equal(t, 0, calls)
}

func TestDispatchNotifyEndpoint(t *testing.T) {
	var query string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}, WithFieldEndpoint(NotifyEndpoint()), WithActionEndpoint(NotifyEndpoint()))

	require.NoError(t, h.client.Dispatch(context.Background(), "zoom_left", FieldEdit("float", "2")))
	assert.Equal(t, "t=zoom_left&v=2", query)

	require.NoError(t, h.client.Dispatch(context.Background(), "do_sum", Action("do_sum")))
	assert.Equal(t, "t=do_sum&v=0", query)
}
