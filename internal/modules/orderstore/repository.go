// README: Repository contract for the dev order store plus the in-memory implementation used by tests.
package orderstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ridesync/internal/modules/order"
	"ridesync/internal/types"
)

// Repository persists orders and users. UpdateStatus and SetArrived are
// compare-and-set on the record version and report false when the record
// moved on.
type Repository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, id types.ID) (*Record, error)
	ListByRider(ctx context.Context, riderID types.ID) ([]*order.Order, error)
	// ListForDriver returns unclaimed pending orders and the driver's
	// accepted ones.
	ListForDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to order.Status, version int, driverID *types.ID) (bool, error)
	SetArrived(ctx context.Context, id types.ID, version int) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error

	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id types.ID) (*User, error)
}

type MemoryRepository struct {
	mu      sync.RWMutex
	orders  map[types.ID]*Record
	events  []Event
	users   map[types.ID]*User
	byEmail map[string]types.ID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:  make(map[types.ID]*Record),
		users:   make(map[types.ID]*User),
		byEmail: make(map[string]types.ID),
	}
}

func (m *MemoryRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = &Record{Order: o.Clone()}
	return nil
}

func (m *MemoryRepository) GetOrder(ctx context.Context, id types.ID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &Record{Order: r.Order.Clone(), Version: r.Version}, nil
}

func (m *MemoryRepository) filter(keep func(*order.Order) bool) []*order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*order.Order, 0)
	for _, r := range m.orders {
		if keep(r.Order) {
			out = append(out, r.Order.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryRepository) ListByRider(ctx context.Context, riderID types.ID) ([]*order.Order, error) {
	return m.filter(func(o *order.Order) bool { return o.RiderID == riderID }), nil
}

func (m *MemoryRepository) ListForDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	return m.filter(func(o *order.Order) bool {
		if o.Status == order.StatusPending {
			return !o.Claimed()
		}
		return o.Status == order.StatusAccepted && o.HeldBy(driverID)
	}), nil
}

func (m *MemoryRepository) ListByDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	return m.filter(func(o *order.Order) bool { return o.HeldBy(driverID) }), nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, id types.ID, from, to order.Status, version int, driverID *types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.orders[id]
	if !ok || r.Order.Status != from || r.Version != version {
		return false, nil
	}
	r.Order.Status = to
	if driverID != nil {
		d := *driverID
		r.Order.DriverID = &d
	}
	r.Version++
	return true, nil
}

func (m *MemoryRepository) SetArrived(ctx context.Context, id types.ID, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.orders[id]
	if !ok || r.Version != version {
		return false, nil
	}
	r.Order.Arrived = true
	r.Version++
	return true, nil
}

func (m *MemoryRepository) AppendEvent(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

// Events returns the recorded events of one order, oldest first.
func (m *MemoryRepository) Events(id types.ID) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryRepository) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := m.byEmail[key]; ok {
		return ErrEmailTaken
	}
	c := *u
	m.users[u.ID] = &c
	m.byEmail[key] = u.ID
	return nil
}

func (m *MemoryRepository) UserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *m.users[id]
	return &c, nil
}

func (m *MemoryRepository) UserByID(ctx context.Context, id types.ID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}
