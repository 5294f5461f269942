package scoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/observations"
	"github.com/orrerynet/orrery/shared"
	"github.com/orrerynet/orrery/tasks"
	"github.com/orrerynet/orrery/truth"
)

// RegistrationService is the scorer's view of the submission registry.
type RegistrationService interface {
	RegisterForRoundClosed(ctx context.Context) <-chan shared.ClosedRound
	NewResult(ctx context.Context, result shared.RoundResult) error
}

var (
	roundsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orrery",
		Subsystem: "scoring",
		Name:      "rounds_total",
		Help:      "Number of executed rounds by final status",
	}, []string{"status"})

	instancesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orrery",
		Subsystem: "scoring",
		Name:      "instances_total",
		Help:      "Number of executed task instances by domain and final status",
	}, []string{"domain", "status"})

	executionLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orrery",
		Subsystem: "scoring",
		Name:      "execution_latency_seconds",
		Help:      "Wall time of a full round execution",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)

func DefaultConfig() Config {
	return Config{
		Parallelism:  runtime.NumCPU(),
		FetchTimeout: 5 * time.Second,
	}
}

//nolint:lll
type Config struct {
	Parallelism  int           `long:"parallelism"   description:"The number of concurrent miner scoring workers. Defaults to the number of CPUs"`
	FetchTimeout time.Duration `long:"fetch-timeout" description:"The timeout of a single observation snapshot fetch"`
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("parallelism", c.Parallelism)
	enc.AddDuration("fetch-timeout", c.FetchTimeout)
	return nil
}

// Service scores closed rounds handed over by the registry.
type Service struct {
	cfg      Config
	reg      RegistrationService
	resolver *truth.Resolver
	provider observations.Provider
	tasks    *tasks.Set
}

type newServiceOptionFunc func(*newServiceOptions)

type newServiceOptions struct {
	cfg Config
}

func WithConfig(cfg Config) newServiceOptionFunc {
	return func(opts *newServiceOptions) {
		opts.cfg = cfg
	}
}

func NewService(
	ctx context.Context,
	reg RegistrationService,
	resolver *truth.Resolver,
	provider observations.Provider,
	taskSet *tasks.Set,
	opts ...newServiceOptionFunc,
) (*Service, error) {
	options := newServiceOptions{
		cfg: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.cfg.Parallelism <= 0 {
		options.cfg.Parallelism = runtime.NumCPU()
	}
	if options.cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf(
			"%w: fetch timeout must be positive, got %v",
			shared.ErrInvalidConfiguration, options.cfg.FetchTimeout,
		)
	}
	if err := resolver.ValidateSet(taskSet); err != nil {
		return nil, fmt.Errorf("validating task set: %w", err)
	}

	logging.FromContext(ctx).Info(
		"creating scoring service",
		zap.Object("config", options.cfg),
		zap.Int("enabled tasks", len(taskSet.Enabled())),
	)

	return &Service{
		cfg:      options.cfg,
		reg:      reg,
		resolver: resolver,
		provider: provider,
		tasks:    taskSet,
	}, nil
}

// Run consumes closed rounds from the registry until the context is
// canceled. Every consumed round produces exactly one result, failed
// rounds included.
func (s *Service) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("scoring")
	ctx = logging.NewContext(ctx, logger)

	closedRounds := s.reg.RegisterForRoundClosed(ctx)
	for {
		select {
		case closedRound := <-closedRounds:
			result := s.execute(ctx, closedRound)
			if err := s.reg.NewResult(ctx, result); err != nil {
				logger.Error(
					"failed to publish round result",
					zap.Error(err),
					zap.Uint("epoch", closedRound.Epoch),
				)
			}
		case <-ctx.Done():
			logger.Info("scoring service shutting down")
			return nil
		}
	}
}
