// README: End-to-end ride over the dev store: rider, two drivers and their sessions against a live server.
package http_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	devhttp "ridesync/internal/http"
	"ridesync/internal/modules/account"
	"ridesync/internal/modules/driver"
	"ridesync/internal/modules/history"
	"ridesync/internal/modules/order"
	"ridesync/internal/modules/orderstore"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/rider"
	"ridesync/internal/modules/session"
	"ridesync/internal/restclient"
	"ridesync/internal/types"
)

const interval = 20 * time.Millisecond

type party struct {
	store   *session.MemoryStore
	account *account.Service
	orders  *order.Client
	session session.Session
}

func newParty(t *testing.T, baseURL, name string, isDriver bool) *party {
	t.Helper()
	ctx := context.Background()
	store := session.NewMemoryStore()
	rest := restclient.New(baseURL, 5*time.Second, session.TokenSource(store), nil)
	p := &party{
		store:   store,
		account: account.NewService(rest, store, nil),
		orders:  order.NewClient(rest, nil),
	}
	if _, err := p.account.Register(ctx, account.RegisterRequest{
		Name: name, Email: name + "@example.com", Phone: "+233200000000", Password: "secret", IsDriver: isDriver,
	}); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	sess, err := p.account.Login(ctx, name+"@example.com", "secret")
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	p.session = sess
	return p
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRideLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	svc := orderstore.NewService(orderstore.NewMemoryRepository(), orderstore.ServiceConfig{
		JWTSecret: "scenario",
		Pricing:   pricing.Default,
	})
	srv := httptest.NewServer(devhttp.NewRouter(devhttp.RouterDeps{Store: svc}))
	t.Cleanup(srv.Close)
	base := srv.URL + "/api"

	ama := newParty(t, base, "ama", false)
	kofi := newParty(t, base, "kofi", true)
	yaw := newParty(t, base, "yaw", true)

	gate := session.NewGate(ama.store, session.GateConfig{Interval: interval})
	gate.Start(ctx)
	t.Cleanup(gate.Close)
	waitUntil(t, "rider session", func() bool { return gate.Current().State == session.StateRider })

	// Rider drafts and submits an order from Accra Mall to Osu.
	rc := rider.New(ama.orders, rider.Config{RiderID: ama.session.User.ID, PollInterval: interval})
	t.Cleanup(rc.Close)
	if err := rc.SelectLocation(types.Point{Latitude: 5.6037, Longitude: -0.1870}); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if err := rc.SelectLocation(types.Point{Latitude: 5.5560, Longitude: -0.1820}); err != nil {
		t.Fatalf("dropoff: %v", err)
	}
	if err := rc.SelectCarType("suv"); err != nil {
		t.Fatalf("car type: %v", err)
	}
	placed, err := rc.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rc.Snapshot().State != rider.AwaitingDriver {
		t.Fatalf("state after submit = %s", rc.Snapshot().State)
	}

	// Both drivers see the order and race to accept it.
	boards := []*driver.Board{
		driver.New(kofi.orders, driver.Config{DriverID: kofi.session.User.ID, PollInterval: interval}),
		driver.New(yaw.orders, driver.Config{DriverID: yaw.session.User.ID, PollInterval: interval}),
	}
	for _, b := range boards {
		t.Cleanup(b.Close)
		if err := b.Refresh(ctx); err != nil {
			t.Fatalf("board refresh: %v", err)
		}
		if len(b.Orders()) != 1 {
			t.Fatalf("board shows %d orders", len(b.Orders()))
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(boards))
	for i, b := range boards {
		wg.Add(1)
		go func(i int, b *driver.Board) {
			defer wg.Done()
			_, errs[i] = b.Accept(ctx, placed.ID)
		}(i, b)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatal("two drivers accepted the same order")
			}
			winner = i
		case errors.Is(err, order.ErrConflict):
		default:
			t.Fatalf("accept: %v", err)
		}
	}
	if winner < 0 {
		t.Fatal("no driver won the order")
	}
	loser := boards[1-winner]
	if len(loser.Orders()) != 0 {
		t.Fatal("losing driver still shows the claimed order")
	}
	won := boards[winner]
	winnerName := []string{"kofi", "yaw"}[winner]

	waitUntil(t, "rider assigned", func() bool { return rc.Snapshot().State == rider.Assigned })
	if d := rc.Snapshot().Driver(); d == nil || d.Name != winnerName {
		t.Fatalf("rider sees driver %+v, want %s", d, winnerName)
	}

	if _, err := won.Arrive(ctx, placed.ID); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	waitUntil(t, "rider arrived", func() bool { return rc.Snapshot().State == rider.Arrived })

	if _, err := won.Complete(ctx, placed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitUntil(t, "rider completed", func() bool { return rc.Snapshot().State == rider.Completed })

	hist, err := history.NewService(ama.orders).Rider(ctx, ama.session.User.ID)
	if err != nil || len(hist) != 1 || hist[0].Status != order.StatusCompleted || !hist[0].Arrived {
		t.Fatalf("rider history = %+v, %v", hist, err)
	}

	if err := ama.account.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	waitUntil(t, "signed out", func() bool { return gate.Current().State == session.StateUnauthenticated })
}

func TestSignOutStopsPolling(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	svc := orderstore.NewService(orderstore.NewMemoryRepository(), orderstore.ServiceConfig{JWTSecret: "scenario"})
	router := devhttp.NewRouter(devhttp.RouterDeps{Store: svc})

	var riderLists, boardLists atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/user/"):
			riderLists.Add(1)
		case strings.HasPrefix(r.URL.Path, "/api/driver/"):
			boardLists.Add(1)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	base := srv.URL + "/api"

	ama := newParty(t, base, "ama", false)
	kofi := newParty(t, base, "kofi", true)

	riderGate := session.NewGate(ama.store, session.GateConfig{Interval: interval})
	driverGate := session.NewGate(kofi.store, session.GateConfig{Interval: interval})
	for _, g := range []*session.Gate{riderGate, driverGate} {
		g.Start(ctx)
		t.Cleanup(g.Close)
	}
	waitUntil(t, "signed in", func() bool {
		return riderGate.Current().State == session.StateRider && driverGate.Current().State == session.StateDriver
	})

	rc := rider.New(ama.orders, rider.Config{RiderID: ama.session.User.ID, PollInterval: interval})
	t.Cleanup(rc.Close)
	board := driver.New(kofi.orders, driver.Config{DriverID: kofi.session.User.ID, PollInterval: interval})
	t.Cleanup(board.Close)
	riderGate.Bind(rc)
	driverGate.Bind(board)

	_ = rc.SelectLocation(types.Point{Latitude: 5.6037, Longitude: -0.1870})
	_ = rc.SelectLocation(types.Point{Latitude: 5.5560, Longitude: -0.1820})
	_ = rc.SelectCarType("sedan")
	if _, err := rc.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := board.Start(ctx); err != nil {
		t.Fatalf("board start: %v", err)
	}
	waitUntil(t, "both polling", func() bool { return riderLists.Load() > 1 && boardLists.Load() > 1 })

	if err := ama.account.Logout(ctx); err != nil {
		t.Fatalf("rider logout: %v", err)
	}
	if err := session.Clear(ctx, kofi.store); err != nil {
		t.Fatalf("driver clear: %v", err)
	}
	waitUntil(t, "signed out", func() bool {
		return riderGate.Current().State == session.StateUnauthenticated &&
			driverGate.Current().State == session.StateUnauthenticated
	})

	// Let requests already on the wire land, then expect silence.
	time.Sleep(interval)
	r0, b0 := riderLists.Load(), boardLists.Load()
	time.Sleep(10 * interval)
	if r, b := riderLists.Load(), boardLists.Load(); r != r0 || b != b0 {
		t.Fatalf("polling continued after sign-out: rider %d -> %d, board %d -> %d", r0, r, b0, b)
	}
	if err := board.Start(ctx); !errors.Is(err, order.ErrInvalidState) {
		t.Fatalf("board restart after sign-out: %v", err)
	}
}

func TestWritesNeedSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := orderstore.NewService(orderstore.NewMemoryRepository(), orderstore.ServiceConfig{JWTSecret: "scenario"})
	srv := httptest.NewServer(devhttp.NewRouter(devhttp.RouterDeps{Store: svc}))
	t.Cleanup(srv.Close)

	rest := restclient.New(srv.URL+"/api", time.Second, nil, nil)
	_, err := order.NewClient(rest, nil).Create(context.Background(), order.CreateCommand{
		RiderID: "r1",
		Pickup:  types.Point{Latitude: 5.6037, Longitude: -0.1870},
		Dropoff: types.Point{Latitude: 5.5560, Longitude: -0.1820},
		CarType: order.CarSedan,
	})
	if !errors.Is(err, order.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
