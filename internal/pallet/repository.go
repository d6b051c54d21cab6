package pallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
)

const (
	constraintNumberValue    = "pallets_number_value_key"
	constraintTemporaryValue = "pallets_temporary_value_key"
	constraintItemNumber     = "pallet_items_item_number_key"
)

// TxRepository exposes the operations available inside one transaction.
type TxRepository interface {
	NumberLister
	InsertPallet(ctx context.Context, p *Pallet) (int64, error)
	// UpdatePallet persists p when its Version matches the stored one and
	// bumps Version; a mismatch reports db.ErrConflict.
	UpdatePallet(ctx context.Context, p *Pallet) error
	// LoadPalletForUpdate locks the pallet row; the lock also guards its items.
	LoadPalletForUpdate(ctx context.Context, id int64) (*Pallet, error)
	LoadItem(ctx context.Context, id int64) (*Item, error)
	InsertItem(ctx context.Context, item *Item) (int64, error)
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItem(ctx context.Context, id int64) error
}

// ListFilter narrows pallet listings.
type ListFilter struct {
	Division           Division
	Closed             *bool
	ManufacturingOrder string
	Page               int
	PerPage            int
}

func (f ListFilter) normalised() ListFilter {
	if f.PerPage <= 0 {
		f.PerPage = 20
	}
	if f.PerPage > 200 {
		f.PerPage = 200
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}

// ItemFilter narrows item lookups. Empty fields are ignored.
type ItemFilter struct {
	PalletID    int64
	ItemNumber  string
	OrderNumber string
	ClientCode  string
	Limit       int
}

// Repository persists pallets and items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	tx   *db.TxManager
}

// NewRepository constructs Repository. A nil manager falls back to a
// repeatable-read manager on pool.
func NewRepository(pool *pgxpool.Pool, tx *db.TxManager) *Repository {
	if tx == nil {
		tx = db.NewTxManager(pool, pgx.RepeatableRead)
	}
	return &Repository{pool: pool, tx: tx}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const palletColumns = `
	p.id, p.number_value, p.number_is_temporary, p.number_division, p.temporary_value,
	p.manufacturing_order, p.division, p.platform, p.unit_of_measure, p.quantity::text,
	p.is_closed, p.created_date, p.closed_date, p.created_by, p.version`

const itemColumns = `
	i.id, i.item_number, i.pallet_id, i.order_number, i.client_code, i.client_name,
	i.product_code, i.product_description, i.quantity::text, i.weight::text, i.width::text,
	i.quality, i.batch, i.created_date`

// GetPallet loads a pallet with its items.
func (r *Repository) GetPallet(ctx context.Context, id int64) (*Pallet, error) {
	return loadPallet(ctx, r.pool, `SELECT`+palletColumns+` FROM pallets p WHERE p.id = $1`, id)
}

// GetPalletByNumber loads a pallet with its items by current number value.
func (r *Repository) GetPalletByNumber(ctx context.Context, number string) (*Pallet, error) {
	return loadPallet(ctx, r.pool, `SELECT`+palletColumns+` FROM pallets p WHERE p.number_value = $1`, strings.TrimSpace(number))
}

// ListPallets returns one page of pallets without their items, plus the total count.
func (r *Repository) ListPallets(ctx context.Context, filter ListFilter) ([]*Pallet, int, error) {
	filter = filter.normalised()
	var (
		where []string
		args  []any
	)
	if filter.Division != "" {
		args = append(args, string(filter.Division))
		where = append(where, fmt.Sprintf("p.division = $%d", len(args)))
	}
	if filter.Closed != nil {
		args = append(args, *filter.Closed)
		where = append(where, fmt.Sprintf("p.is_closed = $%d", len(args)))
	}
	if filter.ManufacturingOrder != "" {
		args = append(args, filter.ManufacturingOrder)
		where = append(where, fmt.Sprintf("p.manufacturing_order = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pallets p`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf(`SELECT%s FROM pallets p%s ORDER BY p.created_date DESC, p.id DESC LIMIT $%d OFFSET $%d`,
		palletColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var pallets []*Pallet
	for rows.Next() {
		p, err := scanPallet(rows)
		if err != nil {
			return nil, 0, err
		}
		pallets = append(pallets, p)
	}
	return pallets, total, rows.Err()
}

// GetItem loads a single item.
func (r *Repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	return loadItem(ctx, r.pool, `SELECT`+itemColumns+` FROM pallet_items i WHERE i.id = $1`, id)
}

// FindItems returns items matching every non-empty filter field.
func (r *Repository) FindItems(ctx context.Context, filter ItemFilter) ([]*Item, error) {
	var (
		where []string
		args  []any
	)
	if filter.PalletID != 0 {
		args = append(args, filter.PalletID)
		where = append(where, fmt.Sprintf("i.pallet_id = $%d", len(args)))
	}
	if filter.ItemNumber != "" {
		args = append(args, filter.ItemNumber)
		where = append(where, fmt.Sprintf("i.item_number = $%d", len(args)))
	}
	if filter.OrderNumber != "" {
		args = append(args, filter.OrderNumber)
		where = append(where, fmt.Sprintf("i.order_number = $%d", len(args)))
	}
	if filter.ClientCode != "" {
		args = append(args, filter.ClientCode)
		where = append(where, fmt.Sprintf("i.client_code = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT%s FROM pallet_items i%s ORDER BY i.id LIMIT $%d`, itemColumns, clause, len(args))
	return queryItems(ctx, r.pool, query, args...)
}

func (t *txRepo) ListNumbers(ctx context.Context, scope NumberScope) ([]string, error) {
	var (
		query string
		args  []any
	)
	if scope.Temporary {
		query = `
			SELECT temporary_value FROM pallets WHERE temporary_value IS NOT NULL
			UNION
			SELECT number_value FROM pallets WHERE number_is_temporary`
	} else {
		query = `SELECT number_value FROM pallets WHERE NOT number_is_temporary AND number_division = $1`
		args = append(args, string(scope.Division))
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (t *txRepo) InsertPallet(ctx context.Context, p *Pallet) (int64, error) {
	const query = `
		INSERT INTO pallets (
			number_value, number_is_temporary, number_division, temporary_value,
			manufacturing_order, division, platform, unit_of_measure, quantity,
			is_closed, created_date, closed_date, created_by, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		p.Number.Value(), p.Number.IsTemporary(), string(p.Number.Division()), temporaryValue(p),
		p.ManufacturingOrder, string(p.Division), string(p.Platform), p.UnitOfMeasure, p.Quantity.String(),
		p.IsClosed, p.CreatedDate, p.ClosedDate, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, numberConflict(err, p)
	}
	p.ID = id
	p.Version = 1
	return id, nil
}

func (t *txRepo) UpdatePallet(ctx context.Context, p *Pallet) error {
	const query = `
		UPDATE pallets SET
			number_value = $1, number_is_temporary = $2, number_division = $3, temporary_value = $4,
			platform = $5, unit_of_measure = $6, quantity = $7, is_closed = $8, closed_date = $9,
			version = version + 1
		WHERE id = $10 AND version = $11`
	tag, err := t.tx.Exec(ctx, query,
		p.Number.Value(), p.Number.IsTemporary(), string(p.Number.Division()), temporaryValue(p),
		string(p.Platform), p.UnitOfMeasure, p.Quantity.String(), p.IsClosed, p.ClosedDate,
		p.ID, p.Version,
	)
	if err != nil {
		return numberConflict(err, p)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pallet %d version %d", db.ErrConflict, p.ID, p.Version)
	}
	p.Version++
	return nil
}

func (t *txRepo) LoadPalletForUpdate(ctx context.Context, id int64) (*Pallet, error) {
	return loadPallet(ctx, t.tx, `SELECT`+palletColumns+` FROM pallets p WHERE p.id = $1 FOR UPDATE`, id)
}

func (t *txRepo) LoadItem(ctx context.Context, id int64) (*Item, error) {
	return loadItem(ctx, t.tx, `SELECT`+itemColumns+` FROM pallet_items i WHERE i.id = $1`, id)
}

func (t *txRepo) InsertItem(ctx context.Context, item *Item) (int64, error) {
	const query = `
		INSERT INTO pallet_items (
			item_number, pallet_id, order_number, client_code, client_name, product_code,
			product_description, quantity, weight, width, quality, batch, created_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		item.ItemNumber, item.PalletID, item.OrderNumber, item.ClientCode, item.ClientName,
		item.ProductCode, item.ProductDescription, item.Quantity.String(), item.Weight.String(),
		item.Width.String(), item.Quality, item.Batch, item.CreatedDate,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, constraintItemNumber) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateItemNumber, item.ItemNumber)
		}
		return 0, err
	}
	item.ID = id
	return id, nil
}

func (t *txRepo) UpdateItem(ctx context.Context, item *Item) error {
	const query = `
		UPDATE pallet_items SET pallet_id = $1, weight = $2, width = $3, quality = $4, batch = $5
		WHERE id = $6`
	tag, err := t.tx.Exec(ctx, query,
		item.PalletID, item.Weight.String(), item.Width.String(), item.Quality, item.Batch, item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteItem(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM pallet_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func loadPallet(ctx context.Context, q querier, query string, arg any) (*Pallet, error) {
	p, err := scanPallet(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := queryItems(ctx, q, `SELECT`+itemColumns+` FROM pallet_items i WHERE i.pallet_id = $1 ORDER BY i.id`, p.ID)
	if err != nil {
		return nil, err
	}
	p.attachLoaded(items)
	return p, nil
}

func loadItem(ctx context.Context, q querier, query string, arg any) (*Item, error) {
	item, err := scanItem(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]*Item, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanPallet(row pgx.Row) (*Pallet, error) {
	var (
		p                                Pallet
		numberValue, numberDiv, division string
		platform, quantity               string
		numberTemporary                  bool
		originValue                      *string
		createdDate                      time.Time
	)
	err := row.Scan(
		&p.ID, &numberValue, &numberTemporary, &numberDiv, &originValue,
		&p.ManufacturingOrder, &division, &platform, &p.UnitOfMeasure, &quantity,
		&p.IsClosed, &createdDate, &p.ClosedDate, &p.CreatedBy, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	p.Number = restoreNumber(numberValue, numberTemporary, Division(numberDiv))
	if originValue != nil {
		origin := restoreNumber(*originValue, true, Division(numberDiv))
		p.TemporaryNumber = &origin
	}
	p.Division = Division(division)
	p.Platform = Platform(platform)
	p.CreatedDate = createdDate
	var qerr error
	if p.Quantity, qerr = decimal.NewFromString(quantity); qerr != nil {
		return nil, fmt.Errorf("pallet %d: quantity: %w", p.ID, qerr)
	}
	return &p, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var (
		item                    Item
		quantity, weight, width string
	)
	err := row.Scan(
		&item.ID, &item.ItemNumber, &item.PalletID, &item.OrderNumber, &item.ClientCode, &item.ClientName,
		&item.ProductCode, &item.ProductDescription, &quantity, &weight, &width,
		&item.Quality, &item.Batch, &item.CreatedDate,
	)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&item.Quantity, quantity}, {&item.Weight, weight}, {&item.Width, width}} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", item.ID, err)
		}
		*f.dst = v
	}
	return &item, nil
}

func temporaryValue(p *Pallet) *string {
	if p.TemporaryNumber == nil {
		return nil
	}
	v := p.TemporaryNumber.Value()
	return &v
}

// numberConflict turns a lost numbering race into a retryable conflict.
func numberConflict(err error, p *Pallet) error {
	if db.IsUniqueViolation(err, constraintNumberValue, constraintTemporaryValue) {
		return fmt.Errorf("%w: pallet number %s already issued", db.ErrConflict, p.Number.Value())
	}
	return err
}
