// Package broadcaster delivers finished round results to ledger
// nodes. It fans a result out to every configured endpoint and treats
// the delivery as published once enough nodes acknowledged it.
package broadcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/shared"
)

func DefaultConfig() Config {
	return Config{
		AckThreshold:    1,
		DeliveryTimeout: 30 * time.Second,
	}
}

//nolint:lll
type Config struct {
	Endpoints       []string      `long:"ledger-endpoint"         description:"URL of a ledger node to deliver reward distributions to. Can be used multiple times"`
	AckThreshold    uint          `long:"ledger-ack-threshold"    description:"The number of ledger nodes that must acknowledge a delivery for it to count as published"`
	DeliveryTimeout time.Duration `long:"ledger-delivery-timeout" description:"The timeout of delivering one result to the ledger nodes"`
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("endpoints", len(c.Endpoints))
	enc.AddUint("ack-threshold", c.AckThreshold)
	enc.AddDuration("delivery-timeout", c.DeliveryTimeout)
	return nil
}

// Broadcaster implements shared.RewardSink over HTTP:
// POST <endpoint>/rewards/<epoch> with the result encoded as JSON.
type Broadcaster struct {
	cfg       Config
	endpoints []string
	client    *http.Client
}

func New(cfg Config) (*Broadcaster, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no ledger endpoints configured", shared.ErrInvalidConfiguration)
	}
	if cfg.AckThreshold < 1 {
		return nil, fmt.Errorf("%w: ledger ack threshold must be at least 1", shared.ErrInvalidConfiguration)
	}
	if int(cfg.AckThreshold) > len(cfg.Endpoints) {
		return nil, fmt.Errorf(
			"%w: ledger ack threshold (%d) exceeds the number of ledger endpoints (%d)",
			shared.ErrInvalidConfiguration, cfg.AckThreshold, len(cfg.Endpoints),
		)
	}
	if cfg.DeliveryTimeout <= 0 {
		return nil, fmt.Errorf("%w: ledger delivery timeout must be positive", shared.ErrInvalidConfiguration)
	}

	endpoints := make([]string, len(cfg.Endpoints))
	for i, endpoint := range cfg.Endpoints {
		endpoints[i] = strings.TrimSuffix(endpoint, "/")
	}
	return &Broadcaster{
		cfg:       cfg,
		endpoints: endpoints,
		client:    &http.Client{},
	}, nil
}

func (b *Broadcaster) Deliver(ctx context.Context, result shared.RoundResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding round result: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.DeliveryTimeout)
	defer cancel()

	errs := make([]error, len(b.endpoints))
	var wg sync.WaitGroup
	wg.Add(len(b.endpoints))
	for i, endpoint := range b.endpoints {
		i := i
		endpoint := endpoint
		go func() {
			defer wg.Done()
			errs[i] = b.deliver(ctx, endpoint, result.Epoch, payload)
		}()
	}
	wg.Wait()

	var acks uint
	var failures error
	for i, err := range errs {
		if err == nil {
			acks++
			continue
		}
		failures = multierror.Append(failures, fmt.Errorf("delivering to %s: %w", b.endpoints[i], err))
	}

	logger := logging.FromContext(ctx)
	if acks < b.cfg.AckThreshold {
		return fmt.Errorf(
			"round %d result acknowledged by %d/%d ledger nodes, need %d: %w",
			result.Epoch, acks, len(b.endpoints), b.cfg.AckThreshold, failures,
		)
	}
	if failures != nil {
		logger.Warn(
			"result not acknowledged by every ledger node",
			zap.Uint("epoch", result.Epoch),
			zap.Uint("acks", acks),
			zap.Error(failures),
		)
	} else {
		logger.Info("result delivered to the ledger", zap.Uint("epoch", result.Epoch), zap.Uint("acks", acks))
	}
	return nil
}

func (b *Broadcaster) deliver(ctx context.Context, endpoint string, epoch uint, payload []byte) error {
	target := fmt.Sprintf("%s/rewards/%d", endpoint, epoch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting round result: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		return fmt.Errorf("ledger node returned %s", resp.Status)
	}
}
