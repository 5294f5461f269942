package transport

import (
	"context"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/registration"
	"github.com/orrerynet/orrery/scoring"
	"github.com/orrerynet/orrery/shared"
)

type transport interface {
	scoring.RegistrationService
	registration.WorkerService
}

// inMemory binds a submission registry to a scoring service in a
// standalone process through buffered channels.
type inMemory struct {
	closedRounds chan shared.ClosedRound
	results      chan shared.RoundResult
}

func NewInMemory() transport {
	return &inMemory{
		closedRounds: make(chan shared.ClosedRound, 1),
		results:      make(chan shared.RoundResult, 1),
	}
}

// Implement registration.WorkerService.
func (m *inMemory) ScoreRound(ctx context.Context, round shared.ClosedRound) error {
	select {
	case m.closedRounds <- round:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		logging.FromContext(ctx).Info("nobody listens to closed rounds - dropping")
		return nil
	}
}

func (m *inMemory) RegisterForResults(ctx context.Context) <-chan shared.RoundResult {
	return m.results
}

// Implement scoring.RegistrationService.
func (m *inMemory) RegisterForRoundClosed(ctx context.Context) <-chan shared.ClosedRound {
	return m.closedRounds
}

func (m *inMemory) NewResult(ctx context.Context, result shared.RoundResult) error {
	select {
	case m.results <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
