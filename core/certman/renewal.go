package certman

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Scheduler is the background renewal loop. Each tick it runs one
// issuance attempt when the production certificate is within the
// renewal margin of expiry, or when no certificate is installed at all
// (a failed initial issuance keeps being retried here). Issuance
// failures are logged and retried on the next tick; the loop only exits
// when its context is canceled by the owning acceptor's teardown.
type Scheduler struct {
	resolver *Resolver
	issue    func(ctx context.Context) error
	interval time.Duration
	margin   time.Duration
	logger   *slog.Logger
}

func newScheduler(resolver *Resolver, issue func(ctx context.Context) error, interval, margin time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		resolver: resolver,
		issue:    issue,
		interval: interval,
		margin:   margin,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled. A tick with a healthy certificate
// performs no work and no network calls.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "renewal scheduler started",
		"check_interval", s.interval,
		"renewal_margin", s.margin,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "renewal scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// No certificate means the initial issuance has not succeeded yet;
	// WillExpire alone would never fire in that state.
	if s.resolver.Certificate() != nil && !s.resolver.WillExpire(s.margin) {
		return
	}

	s.logger.InfoContext(ctx, "certificate missing or within renewal margin, issuing")
	if err := s.issue(ctx); err != nil {
		// The previously served certificate stays in place; the next
		// tick retries from scratch.
		s.logger.ErrorContext(ctx, "certificate renewal failed", "error", err)
	}
}
