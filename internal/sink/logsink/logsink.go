// Package logsink is a release.Sink that writes messages to the log instead
// of delivering them. It is used for dry runs and when no bot token is set.
package logsink

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sent is one recorded delivery.
type Sent struct {
	ChatID string
	Text   string
}

// Sink logs every message and keeps a copy.
type Sink struct {
	logger *zap.Logger
	mu     sync.RWMutex
	sent   []Sent
}

// New returns a Sink logging at info level.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

// Send implements release.Sink.
func (s *Sink) Send(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, Sent{ChatID: chatID, Text: text})
	s.mu.Unlock()
	s.logger.Info("message", zap.String("chat_id", chatID), zap.String("text", text))
	return nil
}

// Messages returns a copy of the recorded deliveries.
func (s *Sink) Messages() []Sent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}
