package push

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/metrics"
)

// AckRetryPolicy is the shorter retry ladder the monitor applies to entries
// that missed their original deadline, distinct from RetryPolicy's
// Failed-outcome ladder (§4.8 step 7).
type AckRetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxRetries   int
}

func (p AckRetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// AckMonitorConfig assembles an AckMonitor's collaborators.
type AckMonitorConfig struct {
	Pending      *RedisPendingStore
	Redispatch   func(ctx context.Context, messageID, userID string) error
	Acks         AckPublisher
	Retry        AckRetryPolicy
	SweepInterval time.Duration
	BatchSize    int64
	Metrics      *metrics.Registry
	Logger       zerolog.Logger
}

// AckMonitor periodically scans pending-ack entries past their deadline,
// redispatches on a shorter retry ladder than the Failed-outcome path, and
// gives up with a final failure ack once ack_timeout_max_retries is spent
// (§4.8 step 7).
type AckMonitor struct {
	cfg AckMonitorConfig
}

// NewAckMonitor constructs an AckMonitor.
func NewAckMonitor(cfg AckMonitorConfig) *AckMonitor {
	return &AckMonitor{cfg: cfg}
}

// Run blocks, sweeping on cfg.SweepInterval until ctx is cancelled.
func (m *AckMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *AckMonitor) sweepOnce(ctx context.Context) {
	due, err := m.cfg.Pending.Due(ctx, m.cfg.BatchSize)
	if err != nil {
		m.cfg.Logger.Error().Err(err).Msg("push: ack monitor sweep failed")
		return
	}
	for _, entry := range due {
		m.cfg.Metrics.AckTimeouts.Inc()
		if entry.Attempts >= m.cfg.Retry.MaxRetries {
			_ = m.cfg.Pending.Clear(ctx, entry.MessageID, entry.UserID)
			_ = m.cfg.Acks.PublishPushFailure(ctx, entry.MessageID, entry.UserID, "ack_timeout")
			continue
		}
		if err := m.cfg.Redispatch(ctx, entry.MessageID, entry.UserID); err != nil {
			m.cfg.Logger.Warn().Err(err).Str("message_id", entry.MessageID).Str("user_id", entry.UserID).
				Msg("push: ack monitor redispatch failed")
		}
		_ = m.cfg.Pending.Reschedule(ctx, entry.MessageID, entry.UserID, m.cfg.Retry.delay(entry.Attempts), entry.Attempts+1)
	}
}
