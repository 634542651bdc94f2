// Package pageserver is a reference server for the field update protocol. It holds
// application state in a Group, accepts field edits and actions from pages, and pushes
// changed fields to each page's live stream.
package pageserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/fieldsync/pkg/update"
)

// ActionFunc runs a named application action for the origin field. The returned batch is
// sent back as is, so an action that wants its button re-enabled says so in the batch.
type ActionFunc func(ctx context.Context, origin string) (update.Batch, error)

// PageFunc reports the current value of every live field on a page.
type PageFunc func() []update.Entry

type Server struct {
	root      *Group
	logger    *slog.Logger
	interval  time.Duration
	pageParam string
	upgrader  websocket.Upgrader

	lock    sync.RWMutex
	actions map[string]ActionFunc
	pages   map[string]PageFunc
}

type Option func(*Server)

// WithInterval sets how often live streams poll their page. Defaults to 2s.
func WithInterval(d time.Duration) Option {
	return func(s *Server) { s.interval = d }
}

// WithPageParam sets the query parameter naming the page of a live stream. Defaults to "pageid".
func WithPageParam(name string) Option {
	return func(s *Server) { s.pageParam = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(root *Group, opts ...Option) *Server {
	s := &Server{
		root:      root,
		logger:    slog.Default(),
		interval:  2 * time.Second,
		pageParam: "pageid",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		actions: make(map[string]ActionFunc),
		pages:   make(map[string]PageFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HandleAction registers fn as the action called name.
func (s *Server) HandleAction(name string, fn ActionFunc) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.actions[name] = fn
}

// HandlePage registers the live fields of pageID.
func (s *Server) HandlePage(pageID string, fn PageFunc) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pages[pageID] = fn
}

func (s *Server) action(name string) (ActionFunc, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	fn, ok := s.actions[name]
	return fn, ok
}

func (s *Server) page(pageID string) (PageFunc, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	fn, ok := s.pages[pageID]
	return fn, ok
}

// Router returns the protocol routes. Callers may add their own routes to it.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Methods(http.MethodGet).Path("/field_update").HandlerFunc(s.fieldUpdate)
	r.Methods("REQUEST", http.MethodPost).Path("/app_action").HandlerFunc(s.appAction)
	r.Methods(http.MethodGet).Path("/notify").HandlerFunc(s.notify)
	r.Methods(http.MethodGet).Path("/appupdates").Headers("Upgrade", "websocket").HandlerFunc(s.streamWebsocket)
	r.Methods(http.MethodGet).Path("/appupdates").HandlerFunc(s.streamEvents)
	return r
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code, "request_id", request.Header.Get("X-Request-Id"))
	})
}

// Run serves handler on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, handler http.Handler) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("listening", "addr", listener.Addr().String())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
		}
		return nil
	})
	return eg.Wait()
}
