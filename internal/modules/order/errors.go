// README: Error taxonomy shared by the order client, controllers and the dev store.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ridesync/internal/restclient"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrTransient    = errors.New("transient store failure")
	ErrConflict     = errors.New("order state conflict")
	ErrMalformed    = errors.New("malformed order record")
	ErrNotFound     = errors.New("order not found")
	ErrInvalidState = errors.New("invalid state transition")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected is a 4xx from the store that no other sentinel covers.
	// Local input checks use ErrValidation instead.
	ErrRejected = errors.New("request rejected by store")
)

// ConflictError is returned when the store rejected a write because the order
// moved on. Current is the store's view when it sent one.
type ConflictError struct {
	OrderID string
	Current *Order
	Err     error
}

func (e *ConflictError) Error() string {
	if e.Current != nil && e.Current.Claimed() {
		return fmt.Sprintf("order %s conflict: now %s by driver %s", e.OrderID, e.Current.Status, *e.Current.DriverID)
	}
	if e.Current != nil {
		return fmt.Sprintf("order %s conflict: now %s", e.OrderID, e.Current.Status)
	}
	return fmt.Sprintf("order %s conflict", e.OrderID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindTransient
	KindConflict
	KindMalformed
	KindNotFound
	KindInvalidState
	KindUnauthorized
	KindCancelled
	KindRejected
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindUnauthorized:
		return "unauthorized"
	case KindCancelled:
		return "cancelled"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

// Classify maps err onto the taxonomy above.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindUnknown
}

// translate converts restclient failures into the order taxonomy. The
// original error stays in the chain.
func translate(orderID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if errors.Is(err, restclient.ErrDecode) {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var te *restclient.TransportError
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var se *restclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.StatusCode == http.StatusConflict:
		ce := &ConflictError{OrderID: orderID, Err: err}
		if cur, derr := decodeConflictBody(se.Body); derr == nil {
			ce.Current = cur
		}
		return ce
	case se.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case se.Temporary():
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}
