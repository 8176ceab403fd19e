package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ridesync/internal/restclient"
	"ridesync/internal/types"
)

const pendingJSON = `{"_id":"o1","userId":"r1","status":"pending","carType":"Sedan","distance":2.48,"price":3.72,
	"pickupLocation":{"latitude":5.6,"longitude":-0.19},"dropoffLocation":{"latitude":5.61,"longitude":-0.17}}`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(restclient.New(srv.URL, time.Second, nil, nil), nil), &calls
}

func TestCreate_ValidationMakesNoRequest(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	base := CreateCommand{
		RiderID: "r1",
		Pickup:  types.Point{Latitude: 5.60, Longitude: -0.19},
		Dropoff: types.Point{Latitude: 5.61, Longitude: -0.17},
		CarType: CarSedan,
	}
	cases := map[string]func(c *CreateCommand){
		"no car type":   func(c *CreateCommand) { c.CarType = "" },
		"bad car type":  func(c *CreateCommand) { c.CarType = "Tank" },
		"no rider":      func(c *CreateCommand) { c.RiderID = "" },
		"bad pickup":    func(c *CreateCommand) { c.Pickup.Latitude = 100 },
		"negative cost": func(c *CreateCommand) { c.Price = -2 },
	}
	for name, mutate := range cases {
		cmd := base
		mutate(&cmd)
		if _, err := c.Create(context.Background(), cmd); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if n := atomic.LoadInt32(calls); n != 0 {
		t.Fatalf("made %d requests, want 0", n)
	}
}

func TestCreate_SendsBodyAndDecodesEnvelope(t *testing.T) {
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":` + pendingJSON + `}`))
	})

	o, err := c.Create(context.Background(), CreateCommand{
		RiderID:    "r1",
		Pickup:     types.Point{Latitude: 5.60, Longitude: -0.19},
		Dropoff:    types.Point{Latitude: 5.61, Longitude: -0.17},
		DistanceKm: 2.48,
		Price:      3.72,
		CarType:    "sedan",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.ID != "o1" || o.Status != StatusPending {
		t.Fatalf("unexpected order %+v", o)
	}
	if body["userId"] != "r1" || body["carType"] != "Sedan" || body["price"] != 3.72 || body["distance"] != 2.48 {
		t.Fatalf("unexpected request body %v", body)
	}
	pickup, _ := body["pickupLocation"].(map[string]any)
	if pickup["latitude"] != 5.6 || pickup["longitude"] != -0.19 {
		t.Fatalf("unexpected pickup %v", body["pickupLocation"])
	}
}

func TestListByRider_DropsMalformed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/r1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[` + pendingJSON + `, {"_id":"bad","status":"accepted"}]`))
	})
	orders, err := c.ListByRider(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ListByRider: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o1" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestListForDriver_Paths(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	})
	ctx := context.Background()
	if _, err := c.ListForDriver(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.DriverHistory(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListForDriver(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty id: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/driver/d1" || paths[1] != "/driver-history/d1" {
		t.Fatalf("paths = %v", paths)
	}
}

func TestUpdateStatus_ConflictCarriesCurrent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["status"] != "accepted" || req["driverId"] != "d2" {
			t.Errorf("unexpected body %v", req)
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"order is no longer pending","order":{"_id":"o1","status":"accepted","driverId":"d1",
			"pickupLocation":{"latitude":5.6,"longitude":-0.19},"dropoffLocation":{"latitude":5.61,"longitude":-0.17}}}`))
	})

	_, err := c.UpdateStatus(context.Background(), "o1", StatusAccepted, "d2")
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %T %v", err, err)
	}
	if !errors.Is(err, ErrConflict) || Classify(err) != KindConflict {
		t.Fatalf("conflict not classified: %v", err)
	}
	if ce.Current == nil || !ce.Current.HeldBy("d1") {
		t.Fatalf("current = %+v", ce.Current)
	}
	var se *restclient.StatusError
	if !errors.As(err, &se) || se.Message != "order is no longer pending" {
		t.Fatalf("status error not kept in chain: %v", err)
	}
}

func TestUpdateStatus_RejectsPending(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := c.UpdateStatus(context.Background(), "o1", StatusPending, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatal("request sent")
	}
}

func TestMarkArrived(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/orders-arrival/o1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["arrived"] != true {
			t.Errorf("body = %v", req)
		}
		_, _ = w.Write([]byte(`{"_id":"o1","status":"accepted","driverId":"d1","arrived":"true",
			"pickupLocation":{"latitude":5.6,"longitude":-0.19},"dropoffLocation":{"latitude":5.61,"longitude":-0.17}}`))
	})
	o, err := c.MarkArrived(context.Background(), "o1")
	if err != nil {
		t.Fatalf("MarkArrived: %v", err)
	}
	if !o.Arrived {
		t.Fatal("arrived not set")
	}
}

func TestClassify_TransportAndStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusNotFound, KindNotFound},
		{http.StatusBadRequest, KindRejected},
		{http.StatusUnprocessableEntity, KindRejected},
		{http.StatusUnauthorized, KindUnauthorized},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := c.ListByRider(context.Background(), "r1")
		if got := Classify(err); got != tc.want {
			t.Errorf("status %d: Classify = %s, want %s (%v)", tc.status, got, tc.want, err)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	c := NewClient(restclient.New(url, time.Second, nil, nil), nil)
	if _, err := c.ListByRider(context.Background(), "r1"); Classify(err) != KindTransient {
		t.Fatalf("connection refused: Classify = %s (%v)", Classify(err), err)
	}
}
