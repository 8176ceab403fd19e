// README: Driver order board: polled list of claimable and held orders with optimistic accept/arrive.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridesync/internal/logging"
	"ridesync/internal/modules/order"
	"ridesync/internal/observability"
	"ridesync/internal/poll"
	"ridesync/internal/types"
)

type OrderClient interface {
	ListForDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error)
	UpdateStatus(ctx context.Context, orderID types.ID, status order.Status, driverID types.ID) (*order.Order, error)
	MarkArrived(ctx context.Context, orderID types.ID) (*order.Order, error)
}

type Board struct {
	client  OrderClient
	cfg     Config
	log     *zap.Logger
	changes chan struct{}

	mu       sync.Mutex
	entries  map[types.ID]*Entry
	ids      []types.ID
	selected types.ID
	lastErr  error
	sub      *poll.Subscription
	gen      uint64
	closed   bool
}

func New(client OrderClient, cfg Config) *Board {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Board{
		client:  client,
		cfg:     cfg,
		log:     logging.OrNop(cfg.Logger).Named("driver").With(zap.String("driver", string(cfg.DriverID))),
		changes: make(chan struct{}, 1),
		entries: make(map[types.ID]*Entry),
	}
}

// Start begins polling the driver's order list. A second Start before Close
// is a no-op.
func (b *Board) Start(ctx context.Context) error {
	if b.cfg.DriverID == "" {
		return fmt.Errorf("%w: driver id is required", order.ErrValidation)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: board closed", order.ErrInvalidState)
	}
	if b.sub != nil {
		return nil
	}
	gen := b.gen
	b.sub = poll.Start(ctx, poll.Config{
		Name:     "driver",
		Interval: b.cfg.PollInterval,
		Logger:   b.log,
		OnError: func(err error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.gen == gen {
				b.lastErr = err
				b.notifyLocked()
			}
		},
	},
		func(ctx context.Context) ([]*order.Order, error) {
			return b.client.ListForDriver(ctx, b.cfg.DriverID)
		},
		func(list []*order.Order) bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.gen != gen {
				return false
			}
			b.replaceLocked(list)
			return true
		},
	)
	return nil
}

// Refresh fetches the list now and applies it like a poll tick.
func (b *Board) Refresh(ctx context.Context) error {
	b.mu.Lock()
	gen := b.gen
	b.mu.Unlock()

	list, err := b.client.ListForDriver(ctx, b.cfg.DriverID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen || b.closed {
		return err
	}
	if err != nil {
		b.lastErr = err
		b.notifyLocked()
		return err
	}
	b.replaceLocked(list)
	return nil
}

func (b *Board) Changes() <-chan struct{} {
	return b.changes
}

func (b *Board) notifyLocked() {
	select {
	case b.changes <- struct{}{}:
	default:
	}
}

// visible reports whether the driver should see o at all.
func (b *Board) visible(o *order.Order) bool {
	return !o.Claimed() || o.HeldBy(b.cfg.DriverID)
}

// replaceLocked installs a poll result: the confirmed set is replaced and
// every overlay dropped. A record that would move an order backwards keeps
// the previous confirmed value.
func (b *Board) replaceLocked(list []*order.Order) {
	next := make(map[types.ID]*Entry, len(list))
	ids := make([]types.ID, 0, len(list))
	for _, o := range list {
		if !b.visible(o) {
			continue
		}
		if _, dup := next[o.ID]; dup {
			continue
		}
		confirmed := o
		if prev, ok := b.entries[o.ID]; ok {
			if err := order.CheckProgress(prev.Confirmed, o); err != nil {
				observability.QuarantinedOrdersTotal.Inc()
				b.log.Warn("ignoring regressed order", zap.Error(err))
				confirmed = prev.Confirmed
			}
		}
		next[o.ID] = &Entry{Confirmed: confirmed}
		ids = append(ids, o.ID)
	}
	b.entries = next
	b.ids = ids
	b.lastErr = nil
	b.notifyLocked()
}

// applyConfirmedLocked installs a single authoritative order from a write
// response or conflict reply.
func (b *Board) applyConfirmedLocked(o *order.Order) {
	e, ok := b.entries[o.ID]
	if !b.visible(o) {
		if ok {
			delete(b.entries, o.ID)
			b.removeIDLocked(o.ID)
		}
		b.notifyLocked()
		return
	}
	if !ok {
		b.entries[o.ID] = &Entry{Confirmed: o}
		b.ids = append(b.ids, o.ID)
		b.notifyLocked()
		return
	}
	e.Optimistic = nil
	if err := order.CheckProgress(e.Confirmed, o); err != nil {
		observability.QuarantinedOrdersTotal.Inc()
		b.log.Warn("ignoring regressed order", zap.Error(err))
	} else {
		e.Confirmed = o
	}
	b.notifyLocked()
}

func (b *Board) removeIDLocked(id types.ID) {
	for i, x := range b.ids {
		if x == id {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			return
		}
	}
}

// Orders returns the merged view in the store's order.
func (b *Board) Orders() []*order.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*order.Order, 0, len(b.ids))
	for _, id := range b.ids {
		out = append(out, b.entries[id].View().Clone())
	}
	return out
}

// Entry returns a copy of the board entry for id.
func (b *Board) Entry(id types.ID) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Confirmed: e.Confirmed.Clone(), Optimistic: e.Optimistic.Clone()}, true
}

func (b *Board) Select(id types.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[id]; !ok {
		return fmt.Errorf("%w: %s is not on the board", order.ErrNotFound, id)
	}
	b.selected = id
	b.notifyLocked()
	return nil
}

// Selected returns the selected order, or nil when nothing is selected or it
// has left the board.
func (b *Board) Selected() *order.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[b.selected]; ok {
		return e.View().Clone()
	}
	return nil
}

func (b *Board) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Accept claims a pending order. Losing the race returns *order.ConflictError
// and the board shows the winner's view.
func (b *Board) Accept(ctx context.Context, id types.ID) (*order.Order, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not on the board", order.ErrNotFound, id)
	}
	view := e.View()
	if view.Status != order.StatusPending {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: order %s is %s", order.ErrInvalidState, id, view.Status)
	}
	overlay := view.Clone()
	self := b.cfg.DriverID
	overlay.Status = order.StatusAccepted
	overlay.DriverID = &self
	e.Optimistic = overlay
	gen := b.gen
	b.notifyLocked()
	b.mu.Unlock()

	resp, err := b.client.UpdateStatus(ctx, id, order.StatusAccepted, self)
	if err == nil && !resp.HeldBy(self) {
		observability.OrderConflictsTotal.WithLabelValues("accept").Inc()
		err = &order.ConflictError{OrderID: string(id), Current: resp}
		resp = nil
	}
	return b.finishWrite(gen, id, "accept", resp, err)
}

// Arrive flags the driver's accepted order as arrived. Already arrived is a
// no-op that returns the current view.
func (b *Board) Arrive(ctx context.Context, id types.ID) (*order.Order, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not on the board", order.ErrNotFound, id)
	}
	// An accept still in flight is not enough; the store must have confirmed it.
	if c := e.Confirmed; c == nil || c.Status != order.StatusAccepted || !c.HeldBy(b.cfg.DriverID) {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: order %s is not a confirmed ride of this driver", order.ErrInvalidState, id)
	}
	view := e.View()
	if e.Confirmed.Arrived {
		out := view.Clone()
		b.mu.Unlock()
		return out, nil
	}
	overlay := view.Clone()
	overlay.Arrived = true
	e.Optimistic = overlay
	gen := b.gen
	b.notifyLocked()
	b.mu.Unlock()

	resp, err := b.client.MarkArrived(ctx, id)
	return b.finishWrite(gen, id, "arrive", resp, err)
}

// Complete finishes the driver's accepted order.
func (b *Board) Complete(ctx context.Context, id types.ID) (*order.Order, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not on the board", order.ErrNotFound, id)
	}
	// An accept still in flight is not enough; the store must have confirmed it.
	if c := e.Confirmed; c == nil || c.Status != order.StatusAccepted || !c.HeldBy(b.cfg.DriverID) {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: order %s is not a confirmed ride of this driver", order.ErrInvalidState, id)
	}
	view := e.View()
	overlay := view.Clone()
	overlay.Status = order.StatusCompleted
	e.Optimistic = overlay
	gen := b.gen
	b.notifyLocked()
	b.mu.Unlock()

	resp, err := b.client.UpdateStatus(ctx, id, order.StatusCompleted, b.cfg.DriverID)
	return b.finishWrite(gen, id, "complete", resp, err)
}

// finishWrite folds a write outcome back into the board.
func (b *Board) finishWrite(gen uint64, id types.ID, action string, resp *order.Order, err error) (*order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen || b.closed {
		if err != nil {
			return nil, err
		}
		return resp.Clone(), nil
	}

	if err == nil {
		b.applyConfirmedLocked(resp)
		b.log.Info("order updated", zap.String("action", action), zap.String("order", string(id)), zap.String("status", string(resp.Status)))
		return resp.Clone(), nil
	}

	if e, ok := b.entries[id]; ok {
		e.Optimistic = nil
	}
	b.lastErr = err

	var ce *order.ConflictError
	switch {
	case errors.As(err, &ce):
		b.log.Info("write lost to another update", zap.String("action", action), zap.String("order", string(id)), zap.Error(err))
		if ce.Current != nil {
			b.applyConfirmedLocked(ce.Current)
		} else if b.sub != nil {
			b.sub.Trigger()
		}
	default:
		b.log.Warn("order write failed", zap.String("action", action), zap.String("order", string(id)), zap.Error(err))
	}
	b.notifyLocked()
	return nil, err
}

// Close stops polling. No board change happens after Close returns.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	b.gen++
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}
