// README: Rider order controller: draft a trip, submit it, then follow the order by polling.
package rider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridesync/internal/logging"
	"ridesync/internal/maps"
	"ridesync/internal/modules/order"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/observability"
	"ridesync/internal/poll"
	"ridesync/internal/types"
)

// OrderClient is the part of the order store client the rider flow uses.
type OrderClient interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	ListByRider(ctx context.Context, riderID types.ID) ([]*order.Order, error)
	UpdateStatus(ctx context.Context, orderID types.ID, status order.Status, driverID types.ID) (*order.Order, error)
}

type TravelEstimator interface {
	Estimate(ctx context.Context, origin, destination types.Point) (maps.Estimate, error)
}

type Config struct {
	RiderID      types.ID
	PollInterval time.Duration
	Pricing      *pricing.Calculator
	Estimator    TravelEstimator
	Logger       *zap.Logger
}

type Controller struct {
	client  OrderClient
	cfg     Config
	log     *zap.Logger
	ctx     context.Context
	stop    context.CancelFunc
	changes chan struct{}

	mu      sync.Mutex
	state   State
	pickup  *types.Point
	dropoff *types.Point
	quote   *pricing.Quote
	carType order.CarType
	current *order.Order
	lastErr error
	sub     *poll.Subscription
	gen     uint64 // bumped on Reset/Close; poll results from older generations are dropped
	closed  bool
}

func New(client OrderClient, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Pricing == nil {
		cfg.Pricing = pricing.Default
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Controller{
		client:  client,
		cfg:     cfg,
		log:     logging.OrNop(cfg.Logger).Named("rider").With(zap.String("rider", string(cfg.RiderID))),
		ctx:     ctx,
		stop:    stop,
		changes: make(chan struct{}, 1),
	}
}

// Changes is signalled after every state change. Read Snapshot for the value.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notifyLocked() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:     c.state,
		CarType:   c.carType,
		Order:     c.current.Clone(),
		LastError: c.lastErr,
	}
	if c.pickup != nil {
		p := *c.pickup
		s.Pickup = &p
	}
	if c.dropoff != nil {
		p := *c.dropoff
		s.Dropoff = &p
	}
	if c.quote != nil {
		q := *c.quote
		s.Quote = &q
	}
	return s
}

// SelectLocation sets the pickup on the first call and the dropoff on the
// second, quoting the trip locally. Later calls return ErrSelectionComplete.
func (c *Controller) SelectLocation(p types.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.drafting() {
		return fmt.Errorf("%w: cannot change locations while %s", order.ErrInvalidState, c.state)
	}
	if !pricing.ValidPoint(p) {
		return fmt.Errorf("%w: %w", order.ErrValidation, pricing.ErrInvalidCoordinate)
	}

	switch {
	case c.pickup == nil:
		c.pickup = &p
		c.state = SelectingDropoff
	case c.dropoff == nil:
		q, err := c.cfg.Pricing.Quote(*c.pickup, p)
		if err != nil {
			return fmt.Errorf("%w: %w", order.ErrValidation, err)
		}
		c.dropoff = &p
		c.quote = &q
		if c.carType == "" {
			c.state = AwaitingCarTypeSelection
		} else {
			c.state = AwaitingConfirmation
		}
	default:
		return ErrSelectionComplete
	}
	c.lastErr = nil
	c.notifyLocked()
	return nil
}

// SelectCarType may be called any time before submission.
func (c *Controller) SelectCarType(raw string) error {
	ct, err := order.ParseCarType(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.drafting() {
		return fmt.Errorf("%w: cannot change car type while %s", order.ErrInvalidState, c.state)
	}
	c.carType = ct
	if c.state == AwaitingCarTypeSelection || c.state == Failed {
		c.state = AwaitingConfirmation
	}
	c.lastErr = nil
	c.notifyLocked()
	return nil
}

// Reset clears the draft. It is refused while a submitted order is live.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if !c.state.drafting() && !c.state.terminal() {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot reset while %s", order.ErrInvalidState, st)
	}
	sub := c.sub
	c.sub = nil
	c.gen++
	c.state = SelectingPickup
	c.pickup, c.dropoff, c.quote = nil, nil, nil
	c.carType = ""
	c.current = nil
	c.lastErr = nil
	c.notifyLocked()
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	return nil
}

func (c *Controller) validateDraftLocked() error {
	switch {
	case c.pickup == nil:
		return fmt.Errorf("%w: pickup location is required", order.ErrValidation)
	case c.dropoff == nil || c.quote == nil:
		return fmt.Errorf("%w: dropoff location is required", order.ErrValidation)
	case c.carType == "":
		return fmt.Errorf("%w: car type is required", order.ErrValidation)
	case c.cfg.RiderID == "":
		return fmt.Errorf("%w: rider id is required", order.ErrValidation)
	}
	return nil
}

// Submit sends the draft to the store and starts following the order.
// Validation happens before any request. A failed request moves to Failed
// with the draft intact and the error in LastError; it is not retried.
// Submit may be called again from Failed.
func (c *Controller) Submit(ctx context.Context) (*order.Order, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: controller closed", order.ErrInvalidState)
	}
	if !c.state.drafting() {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot submit while %s", order.ErrInvalidState, st)
	}
	if err := c.validateDraftLocked(); err != nil {
		c.lastErr = err
		c.notifyLocked()
		c.mu.Unlock()
		return nil, err
	}
	cmd := order.CreateCommand{
		RiderID:    c.cfg.RiderID,
		Pickup:     *c.pickup,
		Dropoff:    *c.dropoff,
		DistanceKm: c.quote.DisplayDistance(),
		Price:      c.quote.Price,
		CarType:    c.carType,
	}
	c.state = Submitting
	c.lastErr = nil
	gen := c.gen
	c.notifyLocked()
	c.mu.Unlock()

	created, err := c.client.Create(ctx, cmd)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen {
		if err == nil {
			return created, fmt.Errorf("%w: controller closed during submit", order.ErrInvalidState)
		}
		return nil, err
	}
	if err != nil {
		c.log.Warn("order submit failed", zap.Error(err), zap.Stringer("kind", order.Classify(err)))
		c.state = Failed
		c.lastErr = err
		c.notifyLocked()
		return nil, err
	}

	c.current = created
	c.state = stateFor(created)
	c.log.Info("order submitted", zap.String("order", string(created.ID)), zap.Stringer("state", c.state))
	c.notifyLocked()
	if !c.state.terminal() {
		c.startPollLocked()
	}
	return created.Clone(), nil
}

func (c *Controller) startPollLocked() {
	gen := c.gen
	orderID := c.current.ID
	createdAt := c.current.CreatedAt
	c.sub = poll.Start(c.ctx, poll.Config{
		Name:     "rider",
		Interval: c.cfg.PollInterval,
		Logger:   c.log,
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.gen == gen {
				c.lastErr = err
				c.notifyLocked()
			}
		},
	},
		func(ctx context.Context) (*order.Order, error) {
			orders, err := c.client.ListByRider(ctx, c.cfg.RiderID)
			if err != nil {
				return nil, err
			}
			return pick(orders, orderID, createdAt), nil
		},
		func(o *order.Order) bool {
			return c.applyPolled(gen, o)
		},
	)
}

// pick returns the submitted order, or else the newest order not older than it.
func pick(orders []*order.Order, id types.ID, since time.Time) *order.Order {
	var newest *order.Order
	for _, o := range orders {
		if o.ID == id {
			return o
		}
		if !since.IsZero() && !o.CreatedAt.IsZero() && o.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	return newest
}

// applyPolled runs under the poll fence. It reports whether polling continues.
func (c *Controller) applyPolled(gen uint64, o *order.Order) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.closed {
		return false
	}
	if o == nil {
		return true
	}
	c.applyAuthoritativeLocked(o)
	c.lastErr = nil
	return !c.state.terminal()
}

func (c *Controller) applyAuthoritativeLocked(o *order.Order) {
	if err := order.CheckProgress(c.current, o); err != nil {
		observability.QuarantinedOrdersTotal.Inc()
		c.log.Warn("ignoring regressed order", zap.Error(err))
		return
	}
	prev := c.state
	c.current = o
	c.state = stateFor(o)
	if c.state != prev {
		c.log.Info("order progressed", zap.String("order", string(o.ID)), zap.Stringer("from", prev), zap.Stringer("to", c.state))
	}
	c.notifyLocked()
}

// Cancel asks the store to cancel the live order. A conflict adopts the
// store's view and returns *order.ConflictError.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.tracking() || c.current == nil {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing to cancel while %s", order.ErrInvalidState, st)
	}
	id := c.current.ID
	gen := c.gen
	c.mu.Unlock()

	updated, err := c.client.UpdateStatus(ctx, id, order.StatusCancelled, "")

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return err
	}
	var ce *order.ConflictError
	switch {
	case err == nil:
		c.applyAuthoritativeLocked(updated)
	case errors.As(err, &ce) && ce.Current != nil:
		c.applyAuthoritativeLocked(ce.Current)
		c.lastErr = err
	default:
		c.lastErr = err
		c.notifyLocked()
	}
	var sub *poll.Subscription
	if c.state.terminal() {
		sub = c.sub
		c.sub = nil
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	return err
}

// EstimateTravel asks the configured estimator for a road ETA between the
// selected points. The quote never depends on it.
func (c *Controller) EstimateTravel(ctx context.Context) (maps.Estimate, error) {
	if c.cfg.Estimator == nil {
		return maps.Estimate{}, ErrNoEstimator
	}
	c.mu.Lock()
	if c.pickup == nil || c.dropoff == nil {
		c.mu.Unlock()
		return maps.Estimate{}, fmt.Errorf("%w: select pickup and dropoff first", order.ErrValidation)
	}
	from, to := *c.pickup, *c.dropoff
	c.mu.Unlock()
	return c.cfg.Estimator.Estimate(ctx, from, to)
}

// Close stops polling. No state change happens after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	c.stop()
}
