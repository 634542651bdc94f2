package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// Transport selects how pushes are carried.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebsocket Transport = "websocket"
)

// TerminalError marks a fault after which the server should not be retried, such as a
// rejected stream request.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// stream yields raw push payloads until it ends with io.EOF or a fault.
type stream interface {
	Next() ([]byte, error)
	Close() error
}

type sseStream struct {
	body    io.ReadCloser
	scanner *eventScanner
}

func dialSSE(ctx context.Context, httpClient *http.Client, target *url.URL) (stream, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &TerminalError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-store")

	resp, err := httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &TerminalError{Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, &TerminalError{Err: fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))}
	}
	return &sseStream{body: resp.Body, scanner: newEventScanner(resp.Body)}, nil
}

func (s *sseStream) Next() ([]byte, error) {
	for {
		ev, err := s.scanner.Next()
		if err != nil {
			return nil, err
		}
		if ev.Type == "" || ev.Type == "message" {
			return []byte(ev.Data), nil
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

type websocketStream struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, dialer *websocket.Dialer, target *url.URL) (stream, error) {
	u := *target
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &TerminalError{Err: fmt.Errorf("failed to dial: %s: %w", resp.Status, err)}
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return &websocketStream{conn: conn}, nil
}

func (s *websocketStream) Next() ([]byte, error) {
	for {
		mt, p, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return p, nil
		default:
		}
	}
}

func (s *websocketStream) Close() error {
	return s.conn.Close()
}
