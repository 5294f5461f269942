package registration

import (
	"time"

	"go.uber.org/zap/zapcore"
)

func DefaultConfig() Config {
	return Config{
		MaxRoundMembers:     1 << 32,
		MaxSubmissionSize:   1 << 12,
		SubmitFlushInterval: 100 * time.Millisecond,
		MaxSubmitBatchSize:  1000,
	}
}

//nolint:lll
type Config struct {
	MaxRoundMembers     int           `long:"max-round-members"     description:"The maximum number of (miner, domain) submissions in a round"`
	MaxSubmissionSize   int           `long:"max-submission-size"   description:"The maximum size of a single prediction payload in bytes"`
	MaxSubmitBatchSize  int           `long:"max-submit-batch-size" description:"The maximum number of submissions to persist in a single batch"`
	SubmitFlushInterval time.Duration `long:"submit-flush-interval" description:"The interval between flushes of the submit queue"`
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("max-round-members", c.MaxRoundMembers)
	enc.AddInt("max-submission-size", c.MaxSubmissionSize)
	enc.AddInt("max-submit-batch-size", c.MaxSubmitBatchSize)
	enc.AddDuration("submit-flush-interval", c.SubmitFlushInterval)
	return nil
}
