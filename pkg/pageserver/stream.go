package pageserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

func (s *Server) streamPage(w http.ResponseWriter, r *http.Request) (string, PageFunc, bool) {
	pageID := r.URL.Query().Get(s.pageParam)
	if pageID == "" {
		s.logger.Warn("update stream requested with no page id")
		http.Error(w, "missing "+s.pageParam, http.StatusBadRequest)
		return "", nil, false
	}
	fn, ok := s.page(pageID)
	if !ok {
		http.Error(w, "unknown page "+pageID, http.StatusNotFound)
		return "", nil, false
	}
	return pageID, fn, true
}

// pump sends what changed on the page every interval until ctx is done.
func (s *Server) pump(ctx context.Context, fn PageFunc, send func([]byte) error) error {
	differ := NewDiffer()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if batch := differ.Diff(fn()); batch.Len() > 0 {
			raw, err := json.Marshal(batch)
			if err != nil {
				return fmt.Errorf("failed to encode updates: %w", err)
			}
			if err := send(raw); err != nil {
				return fmt.Errorf("failed to send updates: %w", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	pageID, fn, ok := s.streamPage(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := s.logger.With("page", pageID, "transport", "sse")
	logger.Info("update stream opened")
	err := s.pump(r.Context(), fn, func(data []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	logger.Info("update stream closed", "err", err)
}

func (s *Server) streamWebsocket(w http.ResponseWriter, r *http.Request) {
	pageID, fn, ok := s.streamPage(w, r)
	if !ok {
		return
	}
	logger := s.logger.With("page", pageID, "transport", "websocket")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()
	logger.Info("update stream opened")

	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}
		}
	})
	eg.Go(func() error {
		defer conn.Close()
		err := s.pump(ctx, fn, func(data []byte) error {
			return conn.WriteMessage(websocket.TextMessage, data)
		})
		if err == nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		}
		return err
	})
	logger.Info("update stream closed", "err", eg.Wait())
}
