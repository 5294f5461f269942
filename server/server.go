package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/orrerynet/orrery/broadcaster"
	"github.com/orrerynet/orrery/equations"
	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/observations"
	"github.com/orrerynet/orrery/registration"
	"github.com/orrerynet/orrery/scoring"
	"github.com/orrerynet/orrery/shared"
	"github.com/orrerynet/orrery/tasks"
	"github.com/orrerynet/orrery/transport"
	"github.com/orrerynet/orrery/truth"
)

type svc interface {
	Run(ctx context.Context) error
}

type Server struct {
	worker svc
	reg    *registration.Registration
	cfg    Config
}

// New assembles a server from the configuration: the task set, the
// equation registry, the observation provider stack, the scoring
// worker and the submission registry, bound by the in-memory
// transport. The reward sink is the ledger broadcaster when ledger
// endpoints are configured and a logging sink otherwise.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	}

	if err := cfg.Round.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round configuration: %w", err)
	}

	s, err := loadState(ctx, cfg.DataDir, cfg.Genesis.Time())
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, s); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}

	tr := transport.NewInMemory()

	var worker svc
	if cfg.DisableScoring {
		logging.FromContext(ctx).Info("scoring worker is disabled")
		worker = scoring.NewDisabledService(tr)
	} else {
		taskSet := tasks.Default()
		if cfg.TaskFile != "" {
			taskSet, err = tasks.Load(cfg.TaskFile)
			if err != nil {
				return nil, fmt.Errorf("loading task configuration: %w", err)
			}
		}

		registry, err := equations.New(equations.DefaultTuning())
		if err != nil {
			return nil, fmt.Errorf("building equation registry: %w", err)
		}

		provider, err := observations.NewStack(cfg.Observations)
		if err != nil {
			return nil, fmt.Errorf("building observation provider stack: %w", err)
		}

		worker, err = scoring.NewService(
			ctx,
			tr,
			truth.NewResolver(registry),
			provider,
			taskSet,
			scoring.WithConfig(cfg.Scoring),
		)
		if err != nil {
			return nil, fmt.Errorf("creating scoring service: %w", err)
		}
	}

	var sink shared.RewardSink = transport.LogSink{}
	if len(cfg.Ledger.Endpoints) > 0 {
		sink, err = broadcaster.New(cfg.Ledger)
		if err != nil {
			return nil, fmt.Errorf("creating ledger broadcaster: %w", err)
		}
	}

	reg, err := registration.New(
		ctx,
		cfg.Genesis.Time(),
		cfg.DbDir,
		tr,
		cfg.Round,
		registration.WithConfig(cfg.Registration),
		registration.WithRewardSink(sink),
	)
	if err != nil {
		return nil, fmt.Errorf("creating registration service: %w", err)
	}

	return &Server{
		worker: worker,
		reg:    reg,
		cfg:    cfg,
	}, nil
}

func (s *Server) Close() error {
	return s.reg.Close()
}

// Registration exposes the submission registry for the miner-facing
// surface and for operator queries.
func (s *Server) Registration() *registration.Registration {
	return s.reg
}

// Start runs the components until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	logger.Info("starting registration service")
	serverGroup.Go(func() error {
		return s.reg.Run(ctx)
	})

	logger.Info("starting scoring service")
	serverGroup.Go(func() error {
		return s.worker.Run(ctx)
	})

	var metricsServer *http.Server
	if s.cfg.MetricsPort != nil {
		metricsListener, err := net.Listen("tcp", fmt.Sprintf(":%d", *s.cfg.MetricsPort))
		if err != nil {
			return fmt.Errorf("listening for metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", metricsListener.Addr())
			err := metricsServer.Serve(metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown services: %s", err)
	}
	return nil
}
