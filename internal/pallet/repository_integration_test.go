//go:build integration

package pallet

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/retry"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pallets"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migration, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_pallets.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(migration))
	require.NoError(t, err)
	return pool
}

func newPostgresService(t *testing.T, pool *pgxpool.Pool, attempts int) *Service {
	t.Helper()
	repo := NewRetryingRepository(
		NewRepository(pool, db.NewTxManager(pool, pgx.RepeatableRead)),
		retry.Policy{MaxAttempts: attempts, BaseDelay: 5 * time.Millisecond},
		db.IsTransient, discardLogger(), nil,
	)
	return NewService(repo, nil, nil, nil, discardLogger(), ServiceConfig{})
}

func TestIntegrationPalletLifecycle(t *testing.T) {
	pool := setupPostgres(t)
	svc := newPostgresService(t, pool, 3)
	ctx := context.Background()

	p, err := svc.CreatePallet(ctx, CreatePalletInput{
		ManufacturingOrder: "MO-1", Division: DivisionTC, UnitOfMeasure: "KG", CreatedBy: "op",
	})
	require.NoError(t, err)
	require.Equal(t, "TEMP-1", p.Number.Value())

	item, err := svc.AddItem(ctx, p.ID, ItemInput{
		ItemNumber: "IT-1", ClientCode: "C1", Quantity: decimal.RequireFromString("2.5"),
		Weight: decimal.RequireFromString("4"), Batch: "B1",
	})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, p.ID, ItemInput{ItemNumber: "IT-1", Quantity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrDuplicateItemNumber)

	closed, err := svc.ClosePallet(ctx, p.ID, "supervisor")
	require.NoError(t, err)
	require.Equal(t, "4700001", closed.Number.Value())

	stored, err := svc.GetPalletByNumber(ctx, "4700001")
	require.NoError(t, err)
	require.True(t, stored.IsClosed)
	require.Equal(t, "TEMP-1", stored.TemporaryNumber.Value())
	require.True(t, decimal.RequireFromString("2.5").Equal(stored.Quantity))
	_, ok := stored.Item(item.ID)
	require.True(t, ok)

	_, err = svc.UpdateItem(ctx, item.ID, ItemUpdate{Batch: "B2"})
	require.ErrorIs(t, err, ErrPalletClosed)

	next, err := svc.CreatePallet(ctx, CreatePalletInput{
		ManufacturingOrder: "MO-2", Division: DivisionMA, UnitOfMeasure: "KG", CreatedBy: "op",
	})
	require.NoError(t, err)
	require.Equal(t, "TEMP-2", next.Number.Value())
}

func TestIntegrationConcurrentNumbering(t *testing.T) {
	pool := setupPostgres(t)
	svc := newPostgresService(t, pool, 10)
	ctx := context.Background()
	const workers = 8

	var (
		mu        sync.Mutex
		temporary = map[string]bool{}
		permanent = map[string]bool{}
	)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p, err := svc.CreatePallet(ctx, CreatePalletInput{
				ManufacturingOrder: "MO-C", Division: DivisionMA, UnitOfMeasure: "KG", CreatedBy: "op",
			})
			if err != nil {
				return err
			}
			closed, err := svc.ClosePallet(ctx, p.ID, "supervisor")
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			temporary[p.Number.Value()] = true
			permanent[closed.Number.Value()] = true
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, temporary, workers)
	require.Len(t, permanent, workers)
	require.True(t, permanent["P800001"])
	require.True(t, permanent["P800008"])
}

func TestIntegrationMoveItem(t *testing.T) {
	pool := setupPostgres(t)
	svc := newPostgresService(t, pool, 3)
	ctx := context.Background()

	in := CreatePalletInput{ManufacturingOrder: "MO", Division: DivisionMA, UnitOfMeasure: "KG", CreatedBy: "op"}
	source, err := svc.CreatePallet(ctx, in)
	require.NoError(t, err)
	target, err := svc.CreatePallet(ctx, in)
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, source.ID, ItemInput{ItemNumber: "IT-9", Quantity: decimal.NewFromInt(3), Batch: "B"})
	require.NoError(t, err)

	moved, err := svc.MoveItem(ctx, item.ID, target.ID)
	require.NoError(t, err)
	require.Equal(t, target.ID, moved.PalletID)

	src, err := svc.GetPallet(ctx, source.ID)
	require.NoError(t, err)
	dst, err := svc.GetPallet(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, src.Quantity.IsZero())
	require.True(t, decimal.NewFromInt(3).Equal(dst.Quantity))

	items, err := svc.FindItems(ctx, ItemFilter{PalletID: target.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)

	result, err := svc.ListPallets(ctx, ListFilter{Division: DivisionMA})
	require.NoError(t, err)
	require.Equal(t, 2, result.Pagination.Total)
}
