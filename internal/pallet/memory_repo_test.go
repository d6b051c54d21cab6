package pallet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
)

// memoryRepo is a transactional in-memory RepositoryPort. Transactions are
// serialised and work on a copy of the store that is swapped in on commit.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState

	txCount int
	// beforeInsertPallet runs inside the transaction and may fail it.
	beforeInsertPallet func(ctx context.Context, attempt int) error
	insertAttempts     int
	// beforeUpdatePallet runs inside the transaction while the store lock is
	// held; it may commit rival state through seedLocked and fail the update.
	beforeUpdatePallet func(ctx context.Context, p *Pallet, attempt int) error
	updateAttempts     int
}

type memoryState struct {
	pallets    map[int64]*Pallet
	items      map[int64]*Item
	nextPallet int64
	nextItem   int64
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{pallets: map[int64]*Pallet{}, items: map[int64]*Item{}}}
}

func (s memoryState) clone() memoryState {
	cp := memoryState{
		pallets:    make(map[int64]*Pallet, len(s.pallets)),
		items:      make(map[int64]*Item, len(s.items)),
		nextPallet: s.nextPallet,
		nextItem:   s.nextItem,
	}
	for id, p := range s.pallets {
		cp.pallets[id] = p.Clone()
	}
	for id, it := range s.items {
		item := *it
		cp.items[id] = &item
	}
	return cp
}

func (s *memoryState) load(id int64) (*Pallet, error) {
	stored, ok := s.pallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	p := stored.Clone()
	var items []*Item
	for _, it := range s.items {
		if it.PalletID == id {
			item := *it
			items = append(items, &item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	p.attachLoaded(items)
	return p, nil
}

func (s *memoryState) numberTaken(p *Pallet) bool {
	for id, other := range s.pallets {
		if id == p.ID {
			continue
		}
		if other.Number.Equal(p.Number) {
			return true
		}
		if p.TemporaryNumber != nil && other.TemporaryNumber != nil && other.TemporaryNumber.Equal(*p.TemporaryNumber) {
			return true
		}
	}
	return false
}

func bare(p *Pallet) *Pallet {
	cp := p.Clone()
	cp.items = nil
	return cp
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.txCount++
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: &working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = working
	return nil
}

// seed stores p directly, bypassing the service.
func (r *memoryRepo) seed(p *Pallet) *Pallet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seedLocked(p)
}

// seedLocked is seed for callers already holding mu.
func (r *memoryRepo) seedLocked(p *Pallet) *Pallet {
	r.state.nextPallet++
	p.ID = r.state.nextPallet
	p.Version = 1
	r.state.pallets[p.ID] = bare(p)
	return p
}

func (r *memoryRepo) transactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txCount
}

func (r *memoryRepo) GetPallet(ctx context.Context, id int64) (*Pallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.load(id)
}

func (r *memoryRepo) GetPalletByNumber(ctx context.Context, number string) (*Pallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.state.pallets {
		if p.Number.Value() == number {
			return r.state.load(id)
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) ListPallets(ctx context.Context, filter ListFilter) ([]*Pallet, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filter = filter.normalised()
	var matched []*Pallet
	for _, p := range r.state.pallets {
		if filter.Division != "" && p.Division != filter.Division {
			continue
		}
		if filter.Closed != nil && p.IsClosed != *filter.Closed {
			continue
		}
		if filter.ManufacturingOrder != "" && p.ManufacturingOrder != filter.ManufacturingOrder {
			continue
		}
		matched = append(matched, p.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start := (filter.Page - 1) * filter.PerPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.state.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	item := *it
	return &item, nil
}

func (r *memoryRepo) FindItems(ctx context.Context, filter ItemFilter) ([]*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Item
	for _, it := range r.state.items {
		if filter.PalletID != 0 && it.PalletID != filter.PalletID {
			continue
		}
		if filter.ItemNumber != "" && it.ItemNumber != filter.ItemNumber {
			continue
		}
		if filter.OrderNumber != "" && it.OrderNumber != filter.OrderNumber {
			continue
		}
		if filter.ClientCode != "" && it.ClientCode != filter.ClientCode {
			continue
		}
		item := *it
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) ListNumbers(ctx context.Context, scope NumberScope) ([]string, error) {
	var values []string
	for _, p := range tx.state.pallets {
		if scope.Temporary {
			if p.TemporaryNumber != nil {
				values = append(values, p.TemporaryNumber.Value())
			} else if p.Number.IsTemporary() {
				values = append(values, p.Number.Value())
			}
			continue
		}
		if !p.Number.IsTemporary() && p.Number.Division() == scope.Division {
			values = append(values, p.Number.Value())
		}
	}
	return values, nil
}

func (tx *memoryTx) InsertPallet(ctx context.Context, p *Pallet) (int64, error) {
	tx.repo.insertAttempts++
	if hook := tx.repo.beforeInsertPallet; hook != nil {
		if err := hook(ctx, tx.repo.insertAttempts); err != nil {
			return 0, err
		}
	}
	if tx.state.numberTaken(p) {
		return 0, fmt.Errorf("%w: pallet number %s already issued", db.ErrConflict, p.Number.Value())
	}
	tx.state.nextPallet++
	p.ID = tx.state.nextPallet
	p.Version = 1
	tx.state.pallets[p.ID] = bare(p)
	return p.ID, nil
}

func (tx *memoryTx) UpdatePallet(ctx context.Context, p *Pallet) error {
	tx.repo.updateAttempts++
	if hook := tx.repo.beforeUpdatePallet; hook != nil {
		if err := hook(ctx, p, tx.repo.updateAttempts); err != nil {
			return err
		}
	}
	stored, ok := tx.state.pallets[p.ID]
	if !ok || stored.Version != p.Version {
		return fmt.Errorf("%w: pallet %d version %d", db.ErrConflict, p.ID, p.Version)
	}
	if tx.state.numberTaken(p) {
		return fmt.Errorf("%w: pallet number %s already issued", db.ErrConflict, p.Number.Value())
	}
	p.Version++
	tx.state.pallets[p.ID] = bare(p)
	return nil
}

func (tx *memoryTx) LoadPalletForUpdate(ctx context.Context, id int64) (*Pallet, error) {
	return tx.state.load(id)
}

func (tx *memoryTx) LoadItem(ctx context.Context, id int64) (*Item, error) {
	it, ok := tx.state.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	item := *it
	return &item, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item *Item) (int64, error) {
	for _, existing := range tx.state.items {
		if existing.ItemNumber == item.ItemNumber {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateItemNumber, item.ItemNumber)
		}
	}
	tx.state.nextItem++
	item.ID = tx.state.nextItem
	stored := *item
	tx.state.items[item.ID] = &stored
	return item.ID, nil
}

func (tx *memoryTx) UpdateItem(ctx context.Context, item *Item) error {
	if _, ok := tx.state.items[item.ID]; !ok {
		return ErrNotFound
	}
	stored := *item
	tx.state.items[item.ID] = &stored
	return nil
}

func (tx *memoryTx) DeleteItem(ctx context.Context, id int64) error {
	if _, ok := tx.state.items[id]; !ok {
		return ErrNotFound
	}
	delete(tx.state.items, id)
	return nil
}
