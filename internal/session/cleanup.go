package session

import (
	"context"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/logging"
)

// RunCleanup closes expired sessions every interval until ctx is done.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Store) sweepExpired(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	closed, err := s.CleanupExpired(sweepCtx)
	if err != nil {
		logging.Warn().Err(err).Msg("session cleanup sweep failed")
		return
	}
	if closed > 0 {
		logging.Info().Int("closed", closed).Msg("expired sessions closed")
	}
}
