package page

import (
	"log/slog"
	"sync"
)

// Notifier presents a user-facing, blocking notification.
type Notifier interface {
	Alert(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Alert(message string) {
	f(message)
}

// LogNotifier reports alerts through a logger at warn level. It is the fallback when no
// interactive surface exists.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Alert(message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("alert", "message", message)
}

// RecordingNotifier keeps every alert it receives.
type RecordingNotifier struct {
	lock     sync.Mutex
	messages []string
}

func (n *RecordingNotifier) Alert(message string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.messages = append(n.messages, message)
}

// Messages returns a copy of the recorded alerts in arrival order.
func (n *RecordingNotifier) Messages() []string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]string(nil), n.messages...)
}
