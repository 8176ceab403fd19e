// README: Simulator cases; each drives the rider controller, driver boards and session gate against a live store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ridesync/internal/infra"
	"ridesync/internal/maps"
	"ridesync/internal/modules/account"
	"ridesync/internal/modules/driver"
	"ridesync/internal/modules/history"
	"ridesync/internal/modules/order"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/rider"
	"ridesync/internal/modules/session"
	"ridesync/internal/restclient"
	"ridesync/internal/types"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

var (
	accraMall = types.Point{Latitude: 5.6037, Longitude: -0.1870}
	osu       = types.Point{Latitude: 5.5560, Longitude: -0.1820}
)

type Runner struct {
	cfg       Config
	log       *zap.Logger
	httpc     *http.Client
	redis     *redis.Client
	runID     string
	pricing   *pricing.Calculator
	estimator rider.TravelEstimator
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(ctx context.Context, cfg Config, logger *zap.Logger) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		log:     logger,
		httpc:   &http.Client{Timeout: cfg.Store.Timeout},
		runID:   uuid.NewString()[:8],
		pricing: pricing.New(cfg.Pricing.RatePerKm),
	}
	if cfg.Session.Backend == "redis" {
		rdb, err := infra.NewRedis(ctx, cfg.Session.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("session redis: %w", err)
		}
		r.redis = rdb
	}
	if cfg.Maps.APIKey != "" {
		est, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return nil, fmt.Errorf("maps: %w", err)
		}
		r.estimator = est
	}
	return r, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: store reachable", Focus: "order store answers /health", Run: storeReachable},
		{Name: "Env: session store", Focus: "session backend round-trips a session", Run: sessionRoundTrip},
		{Name: "Ride: full lifecycle", Focus: "rider, driver and session gate run together to completion", Run: lifecycle},
		{Name: "Concurrency: multi accept same order", Focus: "exactly one driver wins a pending order", Run: concurrentAccept},
		{Name: "Maps: travel estimate", Focus: "route estimate for the draft order", Run: travelEstimate},
		{Name: "Perf: driver board polling", Focus: "list latency under parallel pollers", Run: perfPolling},
	}
}

func fail(err error) Result { return Result{Status: StatusFail, Note: err.Error()} }

func storeReachable(ctx context.Context, r *Runner) Result {
	start := time.Now()
	url := strings.TrimSuffix(r.cfg.Store.BaseURL, "/api") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(err)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return fail(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func sessionRoundTrip(ctx context.Context, r *Runner) Result {
	store := r.sessionStore("probe")
	want := session.Session{Token: "probe-token", User: session.User{ID: "probe", Name: "Probe"}}
	if err := session.Save(ctx, store, want); err != nil {
		return fail(err)
	}
	got, err := session.Load(ctx, store)
	if err != nil {
		return fail(err)
	}
	if got == nil || got.Token != want.Token || got.User.ID != want.User.ID {
		return Result{Status: StatusFail, Note: fmt.Sprintf("loaded %+v", got)}
	}
	if err := session.Clear(ctx, store); err != nil {
		return fail(err)
	}
	return Result{Status: StatusPass, Note: "backend=" + r.cfg.Session.Backend}
}

func lifecycle(ctx context.Context, r *Runner) Result {
	start := time.Now()
	rp, err := r.newParty(ctx, "rider", false)
	if err != nil {
		return fail(err)
	}
	dp, err := r.newParty(ctx, "driver", true)
	if err != nil {
		return fail(err)
	}

	gate := session.NewGate(rp.store, session.GateConfig{Interval: r.cfg.Poll.Interval, Logger: r.log})
	gate.Start(ctx)
	defer gate.Close()

	rc := rider.New(rp.orders, rider.Config{
		RiderID:      rp.session.User.ID,
		PollInterval: r.cfg.Poll.Interval,
		Pricing:      r.pricing,
		Logger:       r.log,
	})
	defer rc.Close()
	board := driver.New(dp.orders, driver.Config{
		DriverID:     dp.session.User.ID,
		PollInterval: r.cfg.Poll.Interval,
		Logger:       r.log,
	})
	defer board.Close()

	// Signing out stops the pollers of that session.
	gate.Bind(rc)
	driverGate := session.NewGate(dp.store, session.GateConfig{Interval: r.cfg.Poll.Interval, Logger: r.log})
	driverGate.Start(ctx)
	defer driverGate.Close()
	driverGate.Bind(board)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := draft(rc); err != nil {
			return err
		}
		if _, err := rc.Submit(gctx); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		if err := waitFor(gctx, rc.Changes(), func() bool {
			st := rc.Snapshot().State
			return st == rider.Completed || st == rider.Cancelled
		}); err != nil {
			return fmt.Errorf("rider waiting for completion: %w", err)
		}
		if st := rc.Snapshot().State; st != rider.Completed {
			return fmt.Errorf("rider finished in %s", st)
		}
		hist, err := history.NewService(rp.orders).Rider(gctx, rp.session.User.ID)
		if err != nil {
			return err
		}
		if s := history.Summarize(hist); s.Completed != 1 {
			return fmt.Errorf("rider history summary %+v", s)
		}
		if err := rp.account.Logout(gctx); err != nil {
			return err
		}
		for gate.Current().State != session.StateUnauthenticated {
			select {
			case <-gate.Changes():
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		if err := board.Start(gctx); err != nil {
			return err
		}
		var id types.ID
		if err := waitFor(gctx, board.Changes(), func() bool {
			for _, o := range board.Orders() {
				if o.RiderID == rp.session.User.ID && o.Status == order.StatusPending {
					id = o.ID
					return true
				}
			}
			return false
		}); err != nil {
			return fmt.Errorf("driver waiting for order: %w", err)
		}
		if _, err := board.Accept(gctx, id); err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		if _, err := board.Arrive(gctx, id); err != nil {
			return fmt.Errorf("arrive: %w", err)
		}
		_, err := board.Complete(gctx, id)
		return err
	})

	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if gate.Current().State != session.StateUnauthenticated {
		return Result{Status: StatusFail, Note: "rider still signed in"}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	rp, err := r.newParty(ctx, "racer-rider", false)
	if err != nil {
		return fail(err)
	}
	cmd, err := r.createCommand(rp.session.User.ID)
	if err != nil {
		return fail(err)
	}
	placed, err := rp.orders.Create(ctx, cmd)
	if err != nil {
		return fail(err)
	}

	boards := make([]*driver.Board, r.cfg.Drivers)
	for i := range boards {
		dp, err := r.newParty(ctx, fmt.Sprintf("racer-%d", i), true)
		if err != nil {
			return fail(err)
		}
		// Polling stays off; each board is loaded once before the race.
		boards[i] = driver.New(dp.orders, driver.Config{DriverID: dp.session.User.ID, PollInterval: time.Hour, Logger: r.log})
		defer boards[i].Close()
		if err := boards[i].Refresh(ctx); err != nil {
			return fail(err)
		}
	}

	start := time.Now()
	var wins, losses atomic.Int32
	var g errgroup.Group
	for _, b := range boards {
		g.Go(func() error {
			_, err := b.Accept(ctx, placed.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, order.ErrConflict):
				losses.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	note := fmt.Sprintf("drivers=%d wins=%d conflicts=%d", len(boards), wins.Load(), losses.Load())
	if wins.Load() != 1 {
		return Result{Status: StatusFail, Note: note}
	}
	// Only the winner keeps the order on its board.
	shown := 0
	for _, b := range boards {
		if _, ok := b.Entry(placed.ID); ok {
			shown++
		}
	}
	if shown != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("%s shown=%d", note, shown)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: note}
}

func travelEstimate(ctx context.Context, r *Runner) Result {
	if r.estimator == nil {
		return Result{Status: StatusSkip, Note: "RIDESYNC_MAPS_API_KEY not set"}
	}
	rc := rider.New(nil, rider.Config{Pricing: r.pricing, Estimator: r.estimator, Logger: r.log})
	defer rc.Close()
	if err := draft(rc); err != nil {
		return fail(err)
	}
	start := time.Now()
	est, err := rc.EstimateTravel(ctx)
	if err != nil {
		return fail(err)
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("%s, %s", est.DistanceText, est.Duration)}
}

func perfPolling(ctx context.Context, r *Runner) Result {
	dp, err := r.newParty(ctx, "poller", true)
	if err != nil {
		return fail(err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	var (
		mu      sync.Mutex
		total   time.Duration
		count   int
		errCnt  int
		g       errgroup.Group
		current = dp.session.User.ID
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				start := time.Now()
				_, err := dp.orders.ListForDriver(ctx, current)
				lat := time.Since(start)
				mu.Lock()
				if err != nil && ctx.Err() == nil {
					errCnt++
				} else if err == nil {
					total += lat
					count++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("no successful polls, errors=%d", errCnt)}
	}
	avg := total / time.Duration(count)
	note := fmt.Sprintf("polls=%d errors=%d rps=%.1f", count, errCnt, float64(count)/r.cfg.Duration.Seconds())
	if errCnt > 0 {
		return Result{Status: StatusFail, Latency: avg, Note: note}
	}
	return Result{Status: StatusPass, Latency: avg, Note: note}
}

type party struct {
	store   session.Store
	account *account.Service
	orders  *order.Client
	session session.Session
}

func (r *Runner) sessionStore(name string) session.Store {
	if r.redis != nil {
		return session.NewRedisStore(r.redis, r.cfg.Session.RedisPrefix+r.runID+":"+name+":")
	}
	return session.NewMemoryStore()
}

func (r *Runner) newParty(ctx context.Context, name string, isDriver bool) (*party, error) {
	store := r.sessionStore(name)
	rest := restclient.New(r.cfg.Store.BaseURL, r.cfg.Store.Timeout, session.TokenSource(store), r.log)
	p := &party{
		store:   store,
		account: account.NewService(rest, store, r.log),
		orders:  order.NewClient(rest, r.log),
	}
	email := fmt.Sprintf("%s-%s@ridesim.test", name, r.runID)
	if _, err := p.account.Register(ctx, account.RegisterRequest{
		Name: name, Email: email, Phone: "+233200000000", Password: "ridesim", IsDriver: isDriver,
	}); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	sess, err := p.account.Login(ctx, email, "ridesim")
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", name, err)
	}
	p.session = sess
	return p, nil
}

func (r *Runner) createCommand(riderID types.ID) (order.CreateCommand, error) {
	q, err := r.pricing.Quote(accraMall, osu)
	if err != nil {
		return order.CreateCommand{}, err
	}
	return order.CreateCommand{
		RiderID:    riderID,
		Pickup:     accraMall,
		Dropoff:    osu,
		DistanceKm: q.DisplayDistance(),
		Price:      q.Price,
		CarType:    order.CarSedan,
	}, nil
}

func draft(rc *rider.Controller) error {
	if err := rc.SelectLocation(accraMall); err != nil {
		return err
	}
	if err := rc.SelectLocation(osu); err != nil {
		return err
	}
	return rc.SelectCarType(string(order.CarSedan))
}

// waitFor blocks until cond holds, re-checking on every change notification.
func waitFor(ctx context.Context, changes <-chan struct{}, cond func() bool) error {
	for !cond() {
		select {
		case <-changes:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
