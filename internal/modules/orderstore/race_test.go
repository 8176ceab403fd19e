// README: Concurrency tests for order state transitions (run with -race).
package orderstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridesync/internal/modules/order"
	"ridesync/internal/types"
)

// repositories returns the memory repository and, when RIDESYNC_TEST_DSN is
// set, a freshly migrated Postgres one.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	out := map[string]Repository{"memory": NewMemoryRepository()}
	if repo := setupPostgres(t); repo != nil {
		out["postgres"] = repo
	}
	return out
}

func TestConcurrentAcceptSameOrder(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(repo, ServiceConfig{JWTSecret: "test"})

			o, err := svc.CreateOrder(ctx, createCmd(t, "r_multi_accept"))
			if err != nil {
				t.Fatalf("create order: %v", err)
			}

			const attempts = 8
			var wg sync.WaitGroup
			errs := make(chan error, attempts)

			for i := 0; i < attempts; i++ {
				driverID := types.ID(fmt.Sprintf("d%d", i))
				wg.Add(1)
				go func(did types.ID) {
					defer wg.Done()
					_, err := svc.UpdateStatus(ctx, o.ID, order.StatusAccepted, did)
					errs <- err
				}(driverID)
			}

			wg.Wait()
			close(errs)

			success := 0
			for err := range errs {
				if err == nil {
					success++
					continue
				}
				var ce *order.ConflictError
				if !errors.As(err, &ce) || ce.Current == nil || !ce.Current.Claimed() {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if success != 1 {
				t.Fatalf("expected exactly 1 success, got %d", success)
			}

			got, err := svc.Get(ctx, o.ID)
			if err != nil {
				t.Fatalf("get order: %v", err)
			}
			if got.Status != order.StatusAccepted || !got.Claimed() {
				t.Fatalf("unexpected final order: %+v", got)
			}
		})
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(repo, ServiceConfig{JWTSecret: "test"})

			o, err := svc.CreateOrder(ctx, createCmd(t, "r_accept_cancel"))
			if err != nil {
				t.Fatalf("create order: %v", err)
			}

			var wg sync.WaitGroup
			errs := make(chan error, 2)

			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := svc.UpdateStatus(ctx, o.ID, order.StatusAccepted, "d1")
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := svc.UpdateStatus(ctx, o.ID, order.StatusCancelled, "r_accept_cancel")
				errs <- err
			}()

			wg.Wait()
			close(errs)

			success := 0
			for err := range errs {
				if err == nil {
					success++
					continue
				}
				if !errors.Is(err, order.ErrConflict) {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if success < 1 || success > 2 {
				t.Fatalf("expected 1 or 2 successes, got %d", success)
			}

			got, err := svc.Get(ctx, o.ID)
			if err != nil {
				t.Fatalf("get order: %v", err)
			}
			if success == 2 && got.Status != order.StatusCancelled {
				t.Fatalf("expected cancelled after accept+cancel, got %s", got.Status)
			}
			if success == 1 && got.Status != order.StatusAccepted && got.Status != order.StatusCancelled {
				t.Fatalf("unexpected final status: %s", got.Status)
			}
		})
	}
}

func TestConcurrentArrive(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(repo, ServiceConfig{JWTSecret: "test"})

			o, _ := svc.CreateOrder(ctx, createCmd(t, "r_arrive"))
			if _, err := svc.UpdateStatus(ctx, o.ID, order.StatusAccepted, "d1"); err != nil {
				t.Fatalf("accept: %v", err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if got, err := svc.MarkArrived(ctx, o.ID); err != nil || !got.Arrived {
						t.Errorf("arrive = %+v, %v", got, err)
					}
				}()
			}
			wg.Wait()
		})
	}
}

func setupPostgres(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("RIDESYNC_TEST_DSN")
	if dsn == "" {
		t.Log("RIDESYNC_TEST_DSN not set; skipping Postgres-backed race tests")
		return nil
	}

	ctx := context.Background()
	root, err := repoRoot()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	if err := Migrate(dsn, filepath.Join(root, "migrations"), nil); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders, users"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPostgresRepository(db)
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
