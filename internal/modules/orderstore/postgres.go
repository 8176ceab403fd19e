// README: Order store backed by PostgreSQL; writes are optimistic-locked on status_version.
package orderstore

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridesync/internal/modules/order"
	"ridesync/internal/types"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `
	o.id, o.rider_id, o.driver_id, o.status, o.status_version, o.arrived,
	o.pickup_lat, o.pickup_lng, o.dropoff_lat, o.dropoff_lng,
	o.distance_km, o.price, o.car_type, o.created_at,
	r.name, r.email, d.name, d.email`

const orderFrom = `
	FROM orders o
	LEFT JOIN users r ON r.id = o.rider_id
	LEFT JOIN users d ON d.id = o.driver_id`

func (p *PostgresRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO orders (
			id, rider_id, driver_id, status, status_version, arrived,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			distance_km, price, car_type, created_at
		) VALUES (
			$1, $2, $3, $4, 0, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)`,
		string(o.ID),
		string(o.RiderID),
		toStringPtr(o.DriverID),
		string(o.Status),
		o.Arrived,
		o.Pickup.Latitude, o.Pickup.Longitude,
		o.Dropoff.Latitude, o.Dropoff.Longitude,
		o.DistanceKm,
		o.Price,
		string(o.CarType),
		o.CreatedAt,
	)
	return err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		o                    order.Order
		version              int
		driverID             *string
		riderName, riderMail *string
		drvName, drvMail     *string
	)
	err := row.Scan(
		&o.ID, &o.RiderID, &driverID, &o.Status, &version, &o.Arrived,
		&o.Pickup.Latitude, &o.Pickup.Longitude, &o.Dropoff.Latitude, &o.Dropoff.Longitude,
		&o.DistanceKm, &o.Price, &o.CarType, &o.CreatedAt,
		&riderName, &riderMail, &drvName, &drvMail,
	)
	if err != nil {
		return nil, err
	}
	if riderName != nil {
		o.Rider = &order.Party{ID: o.RiderID, Name: *riderName, Email: deref(riderMail)}
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
		if drvName != nil {
			o.Driver = &order.Party{ID: d, Name: *drvName, Email: deref(drvMail)}
		}
	}
	return &Record{Order: &o, Version: version}, nil
}

func (p *PostgresRepository) GetOrder(ctx context.Context, id types.ID) (*Record, error) {
	row := p.db.QueryRow(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1`, string(id))
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	return r, err
}

func (p *PostgresRepository) list(ctx context.Context, where string, args ...any) ([]*order.Order, error) {
	rows, err := p.db.Query(ctx, `SELECT `+orderColumns+orderFrom+` WHERE `+where+` ORDER BY o.created_at, o.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*order.Order, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Order)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) ListByRider(ctx context.Context, riderID types.ID) ([]*order.Order, error) {
	return p.list(ctx, `o.rider_id = $1`, string(riderID))
}

func (p *PostgresRepository) ListForDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	return p.list(ctx, `(o.status = 'pending' AND o.driver_id IS NULL) OR (o.status = 'accepted' AND o.driver_id = $1)`, string(driverID))
}

func (p *PostgresRepository) ListByDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	return p.list(ctx, `o.driver_id = $1`, string(driverID))
}

func (p *PostgresRepository) UpdateStatus(ctx context.Context, id types.ID, from, to order.Status, version int, driverID *types.ID) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			driver_id = COALESCE($2, driver_id),
			accepted_at = CASE WHEN $1 = 'accepted' THEN NOW() ELSE accepted_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to),
		toStringPtr(driverID),
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresRepository) SetArrived(ctx context.Context, id types.ID, version int) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE orders
		SET arrived = TRUE,
			arrived_at = NOW(),
			status_version = status_version + 1
		WHERE id = $1 AND status_version = $2`,
		string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresRepository) AppendEvent(ctx context.Context, e *Event) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, arrived, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.Arrived,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (p *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, password_hash, is_driver, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(u.ID), u.Name, strings.ToLower(u.Email), u.Phone, u.PasswordHash, u.IsDriver, u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

const userColumns = `id, name, email, phone, password_hash, is_driver, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.IsDriver, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresRepository) UserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(p.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (p *PostgresRepository) UserByID(ctx context.Context, id types.ID) (*User, error) {
	return scanUser(p.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id)))
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
