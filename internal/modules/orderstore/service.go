// README: Dev order store service: the authoritative side of the order REST contract.
package orderstore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ridesync/internal/logging"
	"ridesync/internal/modules/order"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/types"
)

type ServiceConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	// Pricing, when set, rejects orders whose price or distance does not
	// match the endpoints.
	Pricing *pricing.Calculator
	Logger  *zap.Logger
}

type Service struct {
	repo    Repository
	secret  []byte
	ttl     time.Duration
	pricing *pricing.Calculator
	log     *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:    repo,
		secret:  []byte(cfg.JWTSecret),
		ttl:     cfg.TokenTTL,
		pricing: cfg.Pricing,
		log:     logging.OrNop(cfg.Logger).Named("orderstore"),
		now:     time.Now,
	}
}

func (s *Service) CreateOrder(ctx context.Context, cmd order.CreateCommand) (*order.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	ct, _ := order.ParseCarType(string(cmd.CarType))
	if s.pricing != nil && !s.pricing.Verify(cmd.Pickup, cmd.Dropoff, cmd.DistanceKm, cmd.Price) {
		return nil, fmt.Errorf("%w: price %.2f for %.2f km does not match the route", order.ErrValidation, cmd.Price, cmd.DistanceKm)
	}

	o := &order.Order{
		ID:         types.ID(uuid.NewString()),
		RiderID:    cmd.RiderID,
		Pickup:     cmd.Pickup,
		Dropoff:    cmd.Dropoff,
		DistanceKm: cmd.DistanceKm,
		Price:      cmd.Price,
		CarType:    ct,
		Status:     order.StatusPending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	s.record(ctx, &Event{
		OrderID:   o.ID,
		ToStatus:  order.StatusPending,
		ActorID:   &cmd.RiderID,
		CreatedAt: o.CreatedAt,
	})
	s.log.Info("order created", zap.String("order", string(o.ID)), zap.String("rider", string(o.RiderID)))
	return s.get(ctx, o.ID)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*order.Order, error) {
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id types.ID) (*order.Order, error) {
	r, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, r.Order)
	return r.Order, nil
}

// decorate fills the rider/driver summaries from registered users when the
// repository did not.
func (s *Service) decorate(ctx context.Context, orders ...*order.Order) {
	for _, o := range orders {
		if o.Rider == nil {
			if u, err := s.repo.UserByID(ctx, o.RiderID); err == nil {
				o.Rider = u.party()
			}
		}
		if o.Driver == nil && o.Claimed() {
			if u, err := s.repo.UserByID(ctx, *o.DriverID); err == nil {
				o.Driver = u.party()
			}
		}
	}
}

func (s *Service) list(ctx context.Context, id types.ID, fetch func(context.Context, types.ID) ([]*order.Order, error)) ([]*order.Order, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", order.ErrValidation)
	}
	out, err := fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, out...)
	return out, nil
}

func (s *Service) ListByRider(ctx context.Context, riderID types.ID) ([]*order.Order, error) {
	return s.list(ctx, riderID, s.repo.ListByRider)
}

func (s *Service) ListForDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	return s.list(ctx, driverID, s.repo.ListForDriver)
}

func (s *Service) ListDriverHistory(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	return s.list(ctx, driverID, s.repo.ListByDriver)
}

// UpdateStatus moves an order to status. Losing a race, or asking for a
// transition the current status does not allow, returns *order.ConflictError
// with the current order. Repeating a change that already happened returns
// the order unchanged.
func (s *Service) UpdateStatus(ctx context.Context, id types.ID, to order.Status, actor types.ID) (*order.Order, error) {
	if !to.Valid() || to == order.StatusPending {
		return nil, fmt.Errorf("%w: status %q cannot be requested", order.ErrValidation, to)
	}
	if to == order.StatusAccepted && actor == "" {
		return nil, fmt.Errorf("%w: accepting needs a driver id", order.ErrValidation)
	}

	r, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	cur := r.Order
	if cur.Status == to && (to != order.StatusAccepted || cur.HeldBy(actor)) {
		s.decorate(ctx, cur)
		return cur, nil
	}
	if !order.CanTransition(cur.Status, to) {
		return nil, s.conflict(ctx, id, fmt.Errorf("%w: %s -> %s", order.ErrInvalidState, cur.Status, to))
	}
	if to == order.StatusCompleted && actor != "" && !cur.HeldBy(actor) {
		return nil, s.conflict(ctx, id, fmt.Errorf("%w: order is held by another driver", order.ErrInvalidState))
	}

	var driverID *types.ID
	if to == order.StatusAccepted {
		driverID = &actor
	}
	ok, err := s.repo.UpdateStatus(ctx, id, cur.Status, to, r.Version, driverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, id, nil)
	}

	var actorID *types.ID
	if actor != "" {
		actorID = &actor
	}
	s.record(ctx, &Event{
		OrderID:    id,
		FromStatus: cur.Status,
		ToStatus:   to,
		Arrived:    cur.Arrived,
		ActorID:    actorID,
		CreatedAt:  s.now().UTC(),
	})
	s.log.Info("order status changed", zap.String("order", string(id)), zap.String("from", string(cur.Status)), zap.String("to", string(to)))
	return s.get(ctx, id)
}

// MarkArrived flags an accepted order. It is idempotent.
func (s *Service) MarkArrived(ctx context.Context, id types.ID) (*order.Order, error) {
	r, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	cur := r.Order
	if cur.Status != order.StatusAccepted {
		if cur.Arrived {
			s.decorate(ctx, cur)
			return cur, nil
		}
		return nil, s.conflict(ctx, id, fmt.Errorf("%w: order is %s", order.ErrInvalidState, cur.Status))
	}
	if cur.Arrived {
		s.decorate(ctx, cur)
		return cur, nil
	}
	ok, err := s.repo.SetArrived(ctx, id, r.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else wrote in between; settle on whatever is there now.
		return s.MarkArrived(ctx, id)
	}
	s.record(ctx, &Event{
		OrderID:    id,
		FromStatus: cur.Status,
		ToStatus:   cur.Status,
		Arrived:    true,
		ActorID:    cur.DriverID,
		CreatedAt:  s.now().UTC(),
	})
	return s.get(ctx, id)
}

// record appends to the event log. A failed insert does not undo the
// transition it describes.
func (s *Service) record(ctx context.Context, ev *Event) {
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		s.log.Warn("order event not recorded",
			zap.String("order", string(ev.OrderID)),
			zap.String("to", string(ev.ToStatus)),
			zap.Bool("arrived", ev.Arrived),
			zap.Error(err))
	}
}

func (s *Service) conflict(ctx context.Context, id types.ID, cause error) error {
	cur, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	return &order.ConflictError{OrderID: string(id), Current: cur, Err: cause}
}

type RegisterCommand struct {
	Name     string
	Email    string
	Phone    string
	Password string
	IsDriver bool
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if strings.TrimSpace(cmd.Name) == "" || email == "" || cmd.Password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", order.ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", order.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           types.ID(uuid.NewString()),
		Name:         strings.TrimSpace(cmd.Name),
		Email:        email,
		Phone:        strings.TrimSpace(cmd.Phone),
		PasswordHash: string(hash),
		IsDriver:     cmd.IsDriver,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("user", string(u.ID)), zap.Bool("driver", u.IsDriver))
	return u, nil
}

// Login checks the password and returns a signed session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := s.repo.UserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrUserNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	tok, err := s.issue(u)
	if err != nil {
		return "", nil, err
	}
	return tok, u, nil
}

// Principal is the caller named by a session token.
type Principal struct {
	UserID   types.ID
	IsDriver bool
}

type claims struct {
	Driver bool `json:"driver"`
	jwt.RegisteredClaims
}

func (s *Service) issue(u *User) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := s.now()
	c := claims{
		Driver: u.IsDriver,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// ParseToken validates an HS256 session token.
func (s *Service) ParseToken(raw string) (Principal, error) {
	if len(s.secret) == 0 {
		return Principal{}, fmt.Errorf("%w: jwt secret is empty", ErrInvalidToken)
	}
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, _ := tok.Claims.(*claims)
	if c == nil || c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Principal{UserID: types.ID(c.Subject), IsDriver: c.Driver}, nil
}
