package chatsync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Handle controls one running poll loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel asks the loop to stop and returns immediately. Safe to call from
// inside a tick.
func (h *Handle) Cancel() {
	if h != nil {
		h.cancel()
	}
}

// Stop cancels the loop and waits for its goroutine to exit. It must not be
// called from inside a tick of the same loop.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Handle) wait() {
	if h != nil {
		<-h.done
	}
}

// Done is closed once the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// loopConfig describes a poll schedule. A maxBackoff greater than interval
// stretches the delay after consecutive failures, doubling up to maxBackoff.
type loopConfig struct {
	interval   time.Duration
	maxBackoff time.Duration
}

// schedule yields the delay before the next tick.
type schedule struct {
	interval time.Duration
	bo       *backoff.ExponentialBackOff
}

func newSchedule(cfg loopConfig) *schedule {
	s := &schedule{interval: cfg.interval}
	if cfg.maxBackoff > cfg.interval {
		s.bo = backoff.NewExponentialBackOff()
		s.bo.InitialInterval = cfg.interval
		s.bo.MaxInterval = cfg.maxBackoff
		s.bo.Multiplier = 2
		s.bo.RandomizationFactor = 0
		s.bo.Reset()
	}
	return s
}

// next returns the fixed interval after a success, and after a failure
// either the interval or the next backoff step.
func (s *schedule) next(err error) time.Duration {
	if s.bo == nil {
		return s.interval
	}
	if err == nil {
		s.bo.Reset()
		return s.interval
	}
	return s.bo.NextBackOff()
}

// startLoop runs tick immediately and then again interval after each tick
// returns, so ticks of one loop never overlap. The loop ends when ctx is
// done, the handle is canceled, or tick returns an error wrapping
// ErrUnauthorized.
func startLoop(ctx context.Context, cfg loopConfig, tick func(context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	sched := newSchedule(cfg)

	go func() {
		defer close(h.done)
		defer cancel()

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			err := tick(ctx)
			if ctx.Err() != nil || errors.Is(err, ErrUnauthorized) {
				return
			}

			timer.Reset(sched.next(err))
		}
	}()

	return h
}
