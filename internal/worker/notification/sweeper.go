package notificationworker

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-consent-intake/internal/observability/metrics"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// Sweeper re-drives consenting submissions stuck in Pending: the caller went
// away mid-dispatch, a queue job was lost, or a state write failed.
type Sweeper struct {
	reader     submissions.Reader
	notifier   Notifier
	logger     *logging.Logger
	metrics    *metrics.IntakeMetrics
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewSweeper(reader submissions.Reader, notifier Notifier, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		reader:     reader,
		notifier:   notifier,
		logger:     logger,
		interval:   time.Minute,
		staleAfter: 5 * time.Minute,
		batchSize:  25,
		now:        time.Now,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithStaleAfter sets how old a Pending submission must be before it is swept.
func (s *Sweeper) WithStaleAfter(d time.Duration) *Sweeper {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.IntakeMetrics) *Sweeper {
	s.metrics = m
	return s
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep processes one batch and returns how many submissions settled.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if s.reader == nil || s.notifier == nil {
		return 0
	}
	cutoff := s.now().UTC().Add(-s.staleAfter)
	pending, err := s.reader.ListPending(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("pending sweep fetch failed", "error", err)
		return 0
	}

	settled := 0
	for _, sub := range pending {
		if ctx.Err() != nil {
			break
		}
		state := s.notifier.Notify(ctx, sub)
		if state.Settled() {
			settled++
		}
		s.logger.Info("swept pending notification", "submission_id", sub.ID, "state", state)
	}
	s.metrics.ObserveSwept(settled)
	return settled
}
