// README: Recurring fetch scheduler with single-flight ticks and cancellation that fences late results.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridesync/internal/logging"
	"ridesync/internal/observability"
)

// Task fetches one authoritative snapshot.
type Task[T any] func(ctx context.Context) (T, error)

type Config struct {
	Name     string
	Interval time.Duration
	// OnError receives fetch failures. It runs under the same fence as apply,
	// so it never fires after Cancel has returned.
	OnError func(error)
	Logger  *zap.Logger
}

// Subscription is a running poll loop. The owner must call Cancel on teardown.
type Subscription struct {
	name    string
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}

	// mu guards the flags below and is held while apply/OnError run.
	mu        sync.Mutex
	cancelled bool
	inFlight  bool
}

// Start invokes fetch immediately and then every cfg.Interval until the
// subscription is cancelled or ctx ends. At most one fetch is in flight; a
// tick that fires while one is outstanding is dropped. Each successful result
// is handed to apply, which reports whether polling should continue.
//
// apply must not call Cancel on its own subscription; return false instead.
func Start[T any](ctx context.Context, cfg Config, fetch Task[T], apply func(T) bool) *Subscription {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "poll"
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		name:    cfg.Name,
		log:     logging.OrNop(cfg.Logger).With(zap.String("poller", cfg.Name)),
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	tick := func(ctx context.Context) {
		if !s.begin() {
			return
		}
		go func() {
			start := time.Now()
			v, err := fetch(ctx)
			observability.PollFetchDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
			s.finish(err, func() bool { return apply(v) }, cfg.OnError)
		}()
	}

	go s.loop(ctx, cfg.Interval, tick)
	return s
}

func (s *Subscription) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer close(s.done)

	tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		case <-s.trigger:
			tick(ctx)
		}
	}
}

// begin claims the in-flight slot.
func (s *Subscription) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	if s.inFlight {
		observability.PollTicksTotal.WithLabelValues(s.name, observability.TickSkipped).Inc()
		return false
	}
	s.inFlight = true
	return true
}

func (s *Subscription) finish(err error, apply func() bool, onError func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if s.cancelled {
		observability.PollTicksTotal.WithLabelValues(s.name, observability.TickStale).Inc()
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.PollTicksTotal.WithLabelValues(s.name, observability.TickStale).Inc()
			return
		}
		observability.PollTicksTotal.WithLabelValues(s.name, observability.TickError).Inc()
		s.log.Warn("poll fetch failed", zap.Error(err))
		if onError != nil {
			onError(err)
		}
		return
	}

	observability.PollTicksTotal.WithLabelValues(s.name, observability.TickOK).Inc()
	if !apply() {
		s.cancelled = true
		s.cancel()
	}
}

// Trigger requests an immediate tick. Like a timer tick it is dropped when a
// fetch is already in flight.
func (s *Subscription) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Cancel stops future ticks and aborts the in-flight fetch. When Cancel
// returns no apply or OnError call is running and none will start.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

// Active reports whether the subscription is still scheduling ticks.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cancelled && s.ctx.Err() == nil
}

// Done is closed once the scheduling loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
