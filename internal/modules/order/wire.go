// README: JSON wire format for orders; tolerant decoding of the store's field aliases and string-typed scalars.
package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"ridesync/internal/types"
)

type wirePoint struct {
	Latitude  any `json:"latitude"`
	Longitude any `json:"longitude"`
}

type wireOrder struct {
	UnderscoreID json.RawMessage `json:"_id"`
	ID           json.RawMessage `json:"id"`
	UserID       json.RawMessage `json:"userId"`
	User         json.RawMessage `json:"user"`
	DriverID     json.RawMessage `json:"driverId"`
	Driver       json.RawMessage `json:"driver"`
	DriverName   string          `json:"driverName"`
	DriverEmail  string          `json:"driverEmail"`
	Pickup       *wirePoint      `json:"pickupLocation"`
	Dropoff      *wirePoint      `json:"dropoffLocation"`
	Distance     any             `json:"distance"`
	Price        any             `json:"price"`
	CarType      string          `json:"carType"`
	Status       string          `json:"status"`
	Arrived      any             `json:"arrived"`
	CreatedAt    any             `json:"createdAt"`
}

type wireParty struct {
	UnderscoreID json.RawMessage `json:"_id"`
	ID           json.RawMessage `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
}

// Decode parses one order record and checks it with Validate. Any failure
// wraps ErrMalformed.
func Decode(raw []byte) (*Order, error) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	o, err := w.toOrder()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// UnmarshalJSON decodes the wire shape without running Validate.
func (o *Order) UnmarshalJSON(b []byte) error {
	var w wireOrder
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	dec, err := w.toOrder()
	if err != nil {
		return err
	}
	*o = *dec
	return nil
}

func (w *wireOrder) toOrder() (*Order, error) {
	o := &Order{}

	id, err := firstID(w.UnderscoreID, w.ID)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	o.ID = id

	rider, err := decodeParty(w.User)
	if err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	riderID, err := firstID(w.UserID)
	if err != nil {
		return nil, fmt.Errorf("userId: %w", err)
	}
	if riderID == "" && rider != nil {
		riderID = rider.ID
	}
	o.RiderID = riderID
	o.Rider = rider

	driver, err := decodeParty(w.Driver)
	if err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}
	driverID, err := firstID(w.DriverID)
	if err != nil {
		return nil, fmt.Errorf("driverId: %w", err)
	}
	if driverID == "" && driver != nil {
		driverID = driver.ID
	}
	if driver == nil && (w.DriverName != "" || w.DriverEmail != "") {
		driver = &Party{}
	}
	if driver != nil {
		if driver.Name == "" {
			driver.Name = w.DriverName
		}
		if driver.Email == "" {
			driver.Email = w.DriverEmail
		}
		if driver.ID == "" {
			driver.ID = driverID
		}
	}
	if driverID != "" {
		o.DriverID = &driverID
	}
	o.Driver = driver

	if w.Pickup == nil {
		return nil, fmt.Errorf("missing pickupLocation")
	}
	if o.Pickup, err = w.Pickup.point(); err != nil {
		return nil, fmt.Errorf("pickupLocation: %w", err)
	}
	if w.Dropoff == nil {
		return nil, fmt.Errorf("missing dropoffLocation")
	}
	if o.Dropoff, err = w.Dropoff.point(); err != nil {
		return nil, fmt.Errorf("dropoffLocation: %w", err)
	}

	if o.DistanceKm, err = cast.ToFloat64E(w.Distance); err != nil {
		return nil, fmt.Errorf("distance: %w", err)
	}
	if o.Price, err = cast.ToFloat64E(w.Price); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	if w.CarType != "" {
		ct, err := ParseCarType(w.CarType)
		if err != nil {
			return nil, err
		}
		o.CarType = ct
	}

	o.Status = Status(strings.ToLower(strings.TrimSpace(w.Status)))
	if o.Status == "" {
		o.Status = StatusPending
	}

	if o.Arrived, err = cast.ToBoolE(w.Arrived); err != nil {
		return nil, fmt.Errorf("arrived: %w", err)
	}

	if o.CreatedAt, err = decodeTime(w.CreatedAt); err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	return o, nil
}

func (p *wirePoint) point() (types.Point, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return types.Point{}, fmt.Errorf("missing latitude or longitude")
	}
	lat, err := cast.ToFloat64E(p.Latitude)
	if err != nil {
		return types.Point{}, err
	}
	lng, err := cast.ToFloat64E(p.Longitude)
	if err != nil {
		return types.Point{}, err
	}
	return types.Point{Latitude: lat, Longitude: lng}, nil
}

// decodeParty accepts either an embedded object or a bare id string.
func decodeParty(raw json.RawMessage) (*Party, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '{' {
		id, err := firstID(raw)
		if err != nil || id == "" {
			return nil, err
		}
		return &Party{ID: id}, nil
	}
	var wp wireParty
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, err
	}
	id, err := firstID(wp.UnderscoreID, wp.ID)
	if err != nil {
		return nil, err
	}
	return &Party{ID: id, Name: wp.Name, Email: wp.Email}, nil
}

func firstID(candidates ...json.RawMessage) (types.ID, error) {
	for _, raw := range candidates {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		// Numbers keep their literal text so large ids survive.
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return "", err
		}
		var s string
		switch id := v.(type) {
		case string:
			s = id
		case json.Number:
			s = id.String()
		default:
			return "", fmt.Errorf("id must be a string or number, got %s", raw)
		}
		if s = strings.TrimSpace(s); s != "" {
			return types.ID(s), nil
		}
	}
	return "", nil
}

// decodeTime accepts RFC 3339 strings and epoch milliseconds.
func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
	}
	return cast.ToTimeE(v)
}

// MarshalJSON writes the canonical shape the store serves.
func (o Order) MarshalJSON() ([]byte, error) {
	out := struct {
		ID          types.ID    `json:"_id"`
		UserID      types.ID    `json:"userId"`
		User        *partyJSON  `json:"user,omitempty"`
		Pickup      types.Point `json:"pickupLocation"`
		Dropoff     types.Point `json:"dropoffLocation"`
		Distance    float64     `json:"distance"`
		Price       float64     `json:"price"`
		CarType     CarType     `json:"carType,omitempty"`
		Status      Status      `json:"status"`
		Arrived     bool        `json:"arrived"`
		DriverID    *types.ID   `json:"driverId,omitempty"`
		DriverName  string      `json:"driverName,omitempty"`
		DriverEmail string      `json:"driverEmail,omitempty"`
		CreatedAt   *time.Time  `json:"createdAt,omitempty"`
	}{
		ID:       o.ID,
		UserID:   o.RiderID,
		Pickup:   o.Pickup,
		Dropoff:  o.Dropoff,
		Distance: o.DistanceKm,
		Price:    o.Price,
		CarType:  o.CarType,
		Status:   o.Status,
		Arrived:  o.Arrived,
		DriverID: o.DriverID,
	}
	if o.Rider != nil {
		out.User = &partyJSON{ID: o.Rider.ID, Name: o.Rider.Name, Email: o.Rider.Email}
	}
	if o.Driver != nil {
		out.DriverName = o.Driver.Name
		out.DriverEmail = o.Driver.Email
	}
	if !o.CreatedAt.IsZero() {
		t := o.CreatedAt
		out.CreatedAt = &t
	}
	return json.Marshal(out)
}

type partyJSON struct {
	ID    types.ID `json:"_id"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
}

// decodeEnvelope unwraps {"order": {...}} replies; a bare record is accepted too.
func decodeEnvelope(raw []byte) (*Order, error) {
	var env struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Order) > 0 && !bytes.Equal(bytes.TrimSpace(env.Order), []byte("null")) {
		return Decode(env.Order)
	}
	return Decode(raw)
}

// decodeConflictBody extracts the current order from a 409 reply.
func decodeConflictBody(raw []byte) (*Order, error) {
	var env struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if len(env.Order) == 0 {
		return nil, fmt.Errorf("%w: conflict reply without order", ErrMalformed)
	}
	return Decode(env.Order)
}

// decodeList splits a list reply into valid orders and the errors of the
// records it had to drop. Both a bare array and {"orders": [...]} are accepted.
func decodeList(raw []byte) ([]*Order, []error, error) {
	raw = bytes.TrimSpace(raw)
	var items []json.RawMessage
	if len(raw) > 0 && raw[0] == '{' {
		var env struct {
			Orders []json.RawMessage `json:"orders"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		items = env.Orders
	} else if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	out := make([]*Order, 0, len(items))
	var dropped []error
	for _, it := range items {
		o, err := Decode(it)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		out = append(out, o)
	}
	return out, dropped, nil
}
