package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/shared"
)

type disabledService struct {
	reg RegistrationService
}

// NewDisabledService creates a worker that retires closed rounds with
// an empty result instead of scoring them. It keeps the round pipeline
// of a submission-only installation moving.
func NewDisabledService(reg RegistrationService) *disabledService {
	return &disabledService{
		reg: reg,
	}
}

func (s *disabledService) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("dummy-worker")
	closedRounds := s.reg.RegisterForRoundClosed(ctx)

	for {
		select {
		case closedRound := <-closedRounds:
			logger := logger.With(zap.Uint("epoch", closedRound.Epoch))
			logger.Info("received round to execute")
			now := time.Now()
			result := shared.RoundResult{
				Epoch:    closedRound.Epoch,
				Digest:   closedRound.Digest,
				Started:  now,
				Finished: now,
			}
			if err := s.reg.NewResult(ctx, result); err != nil {
				logger.Error("failed to publish empty result", zap.Error(err))
			}
			logger.Info("published empty result")
		case <-ctx.Done():
			logger.Info("service shutting down")
			return nil
		}
	}
}
