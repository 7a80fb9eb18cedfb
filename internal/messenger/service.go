// Package messenger implements the message write and read paths on top of a
// store.Store and an intent.Log.
package messenger

import (
	"errors"
	"log/slog"
	"time"

	"messenger/internal/intent"
	"messenger/internal/store"
)

// ErrInvalidArgument marks caller mistakes (missing ids, empty text).
var ErrInvalidArgument = errors.New("messenger: invalid argument")

// Service bundles the write coordinator and the read path.
type Service struct {
	Store   store.Store
	Intents intent.Log
	Logger  *slog.Logger

	// IntentGrace is how long the inline fan-out gets to clear an intent
	// before the reconciler may claim it.
	IntentGrace time.Duration
}

// NewService builds a Service with the default intent grace.
func NewService(st store.Store, intents intent.Log, logger *slog.Logger) *Service {
	return &Service{
		Store:       st,
		Intents:     intents,
		Logger:      logger,
		IntentGrace: 5 * time.Second,
	}
}

func (s *Service) grace() time.Duration {
	if s.IntentGrace <= 0 {
		return 5 * time.Second
	}
	return s.IntentGrace
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
