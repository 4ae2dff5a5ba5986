package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/paygate/internal/logging"
)

// Sweeper periodically expires pending transactions that were never confirmed.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs a sweeper running every interval.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Discard()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.service.Sweep(ctx)
			if err != nil {
				s.logger.Warn("sweep pending transactions", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired pending transactions", slog.Int("count", n))
			}
		}
	}
}
