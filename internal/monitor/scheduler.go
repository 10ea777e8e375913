package monitor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ksyq12/mtlsctl/internal/logger"
)

// Checker runs one renewal pass.
type Checker interface {
	CheckAll(ctx context.Context) ([]RenewalRecord, error)
}

// Scheduler runs renewal passes at a fixed interval plus random jitter.
type Scheduler struct {
	Checker  Checker
	Interval time.Duration
	Jitter   time.Duration

	// OnPass, if set, receives the outcome of every pass.
	OnPass func(records []RenewalRecord, err error)

	jitter func(max time.Duration) time.Duration
}

// NewScheduler returns a scheduler for c.
func NewScheduler(c Checker, interval, jitter time.Duration) *Scheduler {
	return &Scheduler{Checker: c, Interval: interval, Jitter: jitter}
}

// Run checks immediately, then once per interval until ctx is done.
// Pass failures are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		records, err := s.Checker.CheckAll(ctx)
		s.report(records, err)
		if s.OnPass != nil {
			s.OnPass(records, err)
		}

		wait := s.Interval + s.nextJitter()
		logger.Debug("Next renewal pass in %s", wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) nextJitter() time.Duration {
	if s.Jitter <= 0 {
		return 0
	}
	if s.jitter != nil {
		return s.jitter(s.Jitter)
	}
	return rand.N(s.Jitter)
}

func (s *Scheduler) report(records []RenewalRecord, err error) {
	counts := map[Outcome]int{}
	for _, r := range records {
		counts[r.Outcome]++
	}
	fields := map[string]interface{}{
		"skipped": counts[OutcomeSkipped],
		"renewed": counts[OutcomeRenewed],
		"failed":  counts[OutcomeFailed],
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.ErrorFields("renewal pass finished with errors", fields)
		return
	}
	logger.InfoFields("renewal pass finished", fields)
}
