package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Initial backoff between attempts
	Multiplier  float64       // Backoff multiplier
	MaxBackoff  time.Duration // Maximum backoff duration
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func() error

// Reconnect attempts to re-establish a connection with exponential backoff,
// aborting when the context is cancelled.
func Reconnect(ctx context.Context, logger zerolog.Logger, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			logger.Info().Int("attempts", attempt+1).Msg("Reconnection successful")
			return nil
		}

		if attempt < config.MaxAttempts-1 {
			logger.Warn().
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxAttempts).
				Dur("backoff", backoff).
				Err(err).
				Msg("Reconnection attempt failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxBackoff {
					backoff = config.MaxBackoff
				}
			}
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts", config.MaxAttempts)
}
