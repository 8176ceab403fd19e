// README: Session gate; polls the session store and reports which role is signed in.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridesync/internal/logging"
	"ridesync/internal/poll"
)

type GateConfig struct {
	Interval time.Duration
	Logger   *zap.Logger
}

type Gate struct {
	store    Store
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	current Snapshot
	loaded  bool
	bound   []Stopper
	sub     *poll.Subscription
	changes chan Snapshot
}

// Stopper is a poller owned by the signed-in user, such as a rider
// controller or a driver board.
type Stopper interface {
	Close()
}

func NewGate(store Store, cfg GateConfig) *Gate {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Gate{
		store:    store,
		interval: cfg.Interval,
		log:      logging.OrNop(cfg.Logger).Named("session"),
		changes:  make(chan Snapshot, 1),
	}
}

// Start begins polling the store. Calling Start again before Close is a no-op.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sub != nil {
		return
	}
	g.sub = poll.Start(ctx, poll.Config{Name: "session", Interval: g.interval, Logger: g.log},
		g.read,
		func(r readResult) bool {
			g.apply(r)
			return true
		},
	)
}

type readResult struct {
	session *Session
	bad     error
}

// read distinguishes a malformed record, which signs the user out, from a
// store failure, which keeps the previous state.
func (g *Gate) read(ctx context.Context) (readResult, error) {
	s, err := Load(ctx, g.store)
	if errors.Is(err, ErrMalformedUser) {
		return readResult{bad: err}, nil
	}
	if err != nil {
		return readResult{}, err
	}
	return readResult{session: s}, nil
}

func (g *Gate) apply(r readResult) {
	if r.bad != nil {
		g.log.Warn("ignoring stored session", zap.Error(r.bad))
	}
	next := Snapshot{State: stateFor(r.session), Session: r.session}
	// Bound pollers stop before anyone can observe the signed-out state.
	if next.State == StateUnauthenticated {
		g.stopBound()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loaded = true
	if next.equal(g.current) {
		return
	}
	g.current = next
	g.log.Info("session changed", zap.Stringer("state", next.State))
	select {
	case <-g.changes:
	default:
	}
	g.changes <- next.clone()
}

func (g *Gate) stopBound() {
	g.mu.Lock()
	bound := g.bound
	g.bound = nil
	g.mu.Unlock()
	if len(bound) > 0 {
		g.log.Info("signed out; stopping pollers", zap.Int("count", len(bound)))
	}
	for _, s := range bound {
		s.Close()
	}
}

// Bind registers pollers to be closed the next time the gate reads a
// signed-out session. When the last read was already signed out they are
// closed immediately.
func (g *Gate) Bind(stoppers ...Stopper) {
	g.mu.Lock()
	if !g.loaded || g.current.State != StateUnauthenticated {
		g.bound = append(g.bound, stoppers...)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	for _, s := range stoppers {
		s.Close()
	}
}

// Refresh reads the store now and applies the result. A store error leaves
// the state untouched and is returned.
func (g *Gate) Refresh(ctx context.Context) (Snapshot, error) {
	r, err := g.read(ctx)
	if err != nil {
		return g.Current(), err
	}
	g.apply(r)
	return g.Current(), nil
}

// Trigger asks a running gate for an immediate poll.
func (g *Gate) Trigger() {
	g.mu.Lock()
	sub := g.sub
	g.mu.Unlock()
	if sub != nil {
		sub.Trigger()
	}
}

func (g *Gate) Current() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current.clone()
}

// Changes delivers the latest snapshot after each change. Only the most
// recent undelivered value is kept.
func (g *Gate) Changes() <-chan Snapshot {
	return g.changes
}

func (g *Gate) Close() {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}
