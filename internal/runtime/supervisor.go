package runtime

import (
	"context"
	"math"
	"time"

	"github.com/ksred/klear-fx/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Backoff grows the restart delay by Factor per consecutive failure, from Min up to Max
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

// Delay returns the wait before restart number attempt, counting from zero
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Min <= 0 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Min) * math.Pow(factor, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(math.Round(d))
}

// RestartWithBackoff keeps run going until ctx is done, waiting b.Delay between
// restarts. A run that lasted at least b.Max resets the delay.
func RestartWithBackoff(ctx context.Context, name string, b Backoff, run func(ctx context.Context) error) {
	logger := log.With().Str("component", "supervisor").Str("stream", name).Logger()

	attempt := 0
	for {
		started := time.Now()
		err := run(ctx)
		if ctx.Err() != nil {
			logger.Info().Msg("stream stopped")
			return
		}

		if time.Since(started) >= b.Max {
			attempt = 0
		}
		delay := b.Delay(attempt)
		attempt++

		logger.Warn().Err(err).Dur("restart_in", delay).Msg("stream ended, restarting")
		metrics.StreamRestarts.WithLabelValues(name).Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
