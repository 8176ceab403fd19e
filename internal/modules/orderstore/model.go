// README: Dev order store records: versioned orders, state events and registered users.
package orderstore

import (
	"errors"
	"time"

	"ridesync/internal/modules/order"
	"ridesync/internal/types"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid token")
)

// Record is a stored order with the version used for compare-and-set writes.
type Record struct {
	Order   *order.Order
	Version int
}

// Event is one accepted change of an order, appended after the write commits.
type Event struct {
	OrderID    types.ID
	FromStatus order.Status
	ToStatus   order.Status
	Arrived    bool
	ActorID    *types.ID
	CreatedAt  time.Time
}

type User struct {
	ID           types.ID
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	IsDriver     bool
	CreatedAt    time.Time
}

func (u *User) party() *order.Party {
	return &order.Party{ID: u.ID, Name: u.Name, Email: u.Email}
}
