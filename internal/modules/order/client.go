// README: Order store client; typed create/list/update calls with quarantine of malformed records.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"ridesync/internal/logging"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/observability"
	"ridesync/internal/restclient"
	"ridesync/internal/types"
)

// Doer is the transport the client needs; *restclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

type Client struct {
	rest Doer
	log  *zap.Logger
}

func NewClient(rest Doer, logger *zap.Logger) *Client {
	return &Client{rest: rest, log: logging.OrNop(logger).Named("order")}
}

type CreateCommand struct {
	RiderID    types.ID
	Pickup     types.Point
	Dropoff    types.Point
	DistanceKm float64
	Price      float64
	CarType    CarType
}

// Validate runs the local checks Create performs before touching the network.
func (c CreateCommand) Validate() error {
	switch {
	case c.RiderID == "":
		return fmt.Errorf("%w: rider id is required", ErrValidation)
	case !pricing.ValidPoint(c.Pickup):
		return fmt.Errorf("%w: pickup %v is not a valid coordinate", ErrValidation, c.Pickup)
	case !pricing.ValidPoint(c.Dropoff):
		return fmt.Errorf("%w: dropoff %v is not a valid coordinate", ErrValidation, c.Dropoff)
	case c.CarType == "":
		return fmt.Errorf("%w: car type is required", ErrValidation)
	case c.DistanceKm < 0 || math.IsNaN(c.DistanceKm) || c.Price < 0 || math.IsNaN(c.Price):
		return fmt.Errorf("%w: distance and price must be non-negative", ErrValidation)
	}
	if _, err := ParseCarType(string(c.CarType)); err != nil {
		return err
	}
	return nil
}

type createRequest struct {
	UserID          types.ID    `json:"userId"`
	PickupLocation  types.Point `json:"pickupLocation"`
	DropoffLocation types.Point `json:"dropoffLocation"`
	Price           float64     `json:"price"`
	Distance        float64     `json:"distance"`
	CarType         CarType     `json:"carType"`
}

// Create submits a new pending order. Validation failures return before any
// request is sent.
func (c *Client) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	ct, _ := ParseCarType(string(cmd.CarType))

	var raw json.RawMessage
	err := c.rest.Do(ctx, http.MethodPost, "/orders", createRequest{
		UserID:          cmd.RiderID,
		PickupLocation:  cmd.Pickup,
		DropoffLocation: cmd.Dropoff,
		Price:           cmd.Price,
		Distance:        cmd.DistanceKm,
		CarType:         ct,
	}, &raw)
	if err != nil {
		return nil, translate("", err)
	}
	o, err := decodeEnvelope(raw)
	if err != nil {
		observability.QuarantinedOrdersTotal.Inc()
		return nil, err
	}
	return o, nil
}

// ListByRider returns the rider's orders, dropping malformed records.
func (c *Client) ListByRider(ctx context.Context, riderID types.ID) ([]*Order, error) {
	return c.list(ctx, "/user/"+url.PathEscape(string(riderID)))
}

// ListForDriver returns the orders the driver may see: open pending orders
// and the ones it holds.
func (c *Client) ListForDriver(ctx context.Context, driverID types.ID) ([]*Order, error) {
	return c.list(ctx, "/driver/"+url.PathEscape(string(driverID)))
}

// DriverHistory returns the orders the driver has held.
func (c *Client) DriverHistory(ctx context.Context, driverID types.ID) ([]*Order, error) {
	return c.list(ctx, "/driver-history/"+url.PathEscape(string(driverID)))
}

func (c *Client) list(ctx context.Context, path string) ([]*Order, error) {
	if path[len(path)-1] == '/' {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}
	var raw json.RawMessage
	if err := c.rest.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, translate("", err)
	}
	orders, dropped, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	for _, derr := range dropped {
		observability.QuarantinedOrdersTotal.Inc()
		c.log.Warn("dropping malformed order", zap.String("path", path), zap.Error(derr))
	}
	return orders, nil
}

type updateStatusRequest struct {
	Status   Status    `json:"status"`
	DriverID *types.ID `json:"driverId,omitempty"`
}

// UpdateStatus asks the store to move the order to status. driverID names
// the acting driver and may be empty for rider-initiated changes. A 409 is
// returned as *ConflictError.
func (c *Client) UpdateStatus(ctx context.Context, orderID types.ID, status Status, driverID types.ID) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if !status.Valid() || status == StatusPending {
		return nil, fmt.Errorf("%w: cannot request status %q", ErrValidation, status)
	}
	req := updateStatusRequest{Status: status}
	if driverID != "" {
		req.DriverID = &driverID
	}
	return c.write(ctx, orderID, "/edit-orders/", req)
}

// MarkArrived sets the arrived flag on an accepted order.
func (c *Client) MarkArrived(ctx context.Context, orderID types.ID) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	return c.write(ctx, orderID, "/orders-arrival/", map[string]bool{"arrived": true})
}

func (c *Client) write(ctx context.Context, orderID types.ID, prefix string, body any) (*Order, error) {
	var raw json.RawMessage
	if err := c.rest.Do(ctx, http.MethodPut, prefix+url.PathEscape(string(orderID)), body, &raw); err != nil {
		err = translate(string(orderID), err)
		if _, ok := err.(*ConflictError); ok {
			observability.OrderConflictsTotal.WithLabelValues(actionLabel(prefix)).Inc()
		}
		return nil, err
	}
	o, err := decodeEnvelope(raw)
	if err != nil {
		observability.QuarantinedOrdersTotal.Inc()
		return nil, err
	}
	return o, nil
}

func actionLabel(prefix string) string {
	if prefix == "/orders-arrival/" {
		return "arrive"
	}
	return "update_status"
}

var _ Doer = (*restclient.Client)(nil)
