package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	pushTimeout = 10 * time.Second
	// shutdownFlushTimeout bounds the last flush so a dead endpoint cannot
	// hold up process exit.
	shutdownFlushTimeout = 5 * time.Second
)

// Pusher sends a usage payload somewhere.
type Pusher interface {
	Push(ctx context.Context, payload UsagePayload) error
}

// PushFunc adapts a function to the Pusher interface.
type PushFunc func(ctx context.Context, payload UsagePayload) error

// Push implements Pusher.
func (f PushFunc) Push(ctx context.Context, payload UsagePayload) error {
	return f(ctx, payload)
}

// Sender periodically flushes in-memory counters to a Pusher.
type Sender struct {
	version  string
	started  time.Time
	interval time.Duration
	counter  *Counter
	pusher   Pusher
	now      func() time.Time

	shutdownTimeout time.Duration
}

// NewSender builds a sender for the given interval and pusher.
func NewSender(version string, started time.Time, interval time.Duration, counter *Counter, pusher Pusher) *Sender {
	if counter == nil {
		counter = NewCounter()
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Sender{
		version:  version,
		started:  started.UTC(),
		interval: interval,
		counter:  counter,
		pusher:   pusher,
		now:      time.Now,

		shutdownTimeout: shutdownFlushTimeout,
	}
}

// Counter returns the counter the sender drains.
func (s *Sender) Counter() *Counter {
	return s.counter
}

// Run flushes counters on every interval tick until ctx is canceled. A last
// flush is attempted on shutdown so the final partial window is not lost.
func (s *Sender) Run(ctx context.Context) {
	if s.pusher == nil || s.counter == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finalFlush(ctx)
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("usage flush failed")
			}
		}
	}
}

func (s *Sender) finalFlush(parent context.Context) {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = shutdownFlushTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("final usage flush failed")
	}
}

// Flush sends one usage payload and keeps counters on failure.
func (s *Sender) Flush(ctx context.Context) error {
	if s.pusher == nil || s.counter == nil {
		return nil
	}

	w := s.counter.SnapshotAndReset()
	if w.Empty() {
		return nil
	}

	payload := BuildPayloadAt(
		s.version,
		s.started,
		int64(s.interval.Seconds()),
		w,
		s.now().UTC(),
	)

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := s.pusher.Push(pushCtx, payload); err != nil {
		// Preserve data if the push failed.
		s.counter.Add(w)
		return err
	}

	return nil
}
