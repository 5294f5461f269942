package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/shared"
)

// Sink is an in-memory reward sink. It collects delivered round
// results for inspection; standalone runs and tests use it in place
// of a ledger.
type Sink struct {
	mu      sync.Mutex
	results []shared.RoundResult
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Deliver(_ context.Context, result shared.RoundResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// Results returns the delivered results in delivery order.
func (s *Sink) Results() []shared.RoundResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.RoundResult{}, s.results...)
}

// LogSink logs delivered distributions. Wired by default when no
// ledger collaborator is configured.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, result shared.RoundResult) error {
	logger := logging.FromContext(ctx)
	if result.Failed() {
		logger.Warn("round failed", zap.Uint("epoch", result.Epoch), zap.String("reason", result.Failure))
		return nil
	}
	logger.Info("round reward distribution",
		zap.Uint("epoch", result.Epoch),
		zap.Int("miners", len(result.Shares)),
		zap.Float64("total", result.Shares.Sum()),
		zap.Binary("digest", result.Digest),
	)
	return nil
}
