package pallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pallets/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPallet(ctx context.Context, id int64) (*Pallet, error)
	GetPalletByNumber(ctx context.Context, number string) (*Pallet, error)
	ListPallets(ctx context.Context, filter ListFilter) ([]*Pallet, int, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	FindItems(ctx context.Context, filter ItemFilter) ([]*Item, error)
}

// Printer dispatches print jobs. Implementations are expected to be fast
// (enqueue, not render).
type Printer interface {
	PrintPalletList(ctx context.Context, palletID int64) error
	PrintItemLabel(ctx context.Context, itemID int64) error
}

// CachePort stores closed pallets.
type CachePort interface {
	Get(ctx context.Context, id int64) (*Pallet, bool, error)
	GetByNumber(ctx context.Context, number string) (*Pallet, bool, error)
	Put(ctx context.Context, p *Pallet) error
}

// MetricsPort records engine counters.
type MetricsPort interface {
	NumberAllocated(scope string)
	PermanentSequence(division string, seq int)
	PalletClosed(division string)
}

// CreatePalletInput describes a new pallet request.
type CreatePalletInput struct {
	ManufacturingOrder string
	Division           Division
	Platform           string
	UnitOfMeasure      string
	CreatedBy          string
}

// ListResult is one page of pallets.
type ListResult struct {
	Pallets    []*Pallet
	Pagination shared.Pagination
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Classifier Classifier
}

// Service coordinates the pallet lifecycle: numbering, closing and item changes.
type Service struct {
	repo       RepositoryPort
	printer    Printer
	cache      CachePort
	metrics    MetricsPort
	logger     *slog.Logger
	alloc      SequenceAllocator
	classifier Classifier
	now        func() time.Time
}

// NewService builds Service. printer, cache and metrics may be nil.
func NewService(repo RepositoryPort, printer Printer, cache CachePort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	classifier := cfg.Classifier
	if classifier.Code == "" || classifier.Name == "" {
		classifier = DefaultClassifier
	}
	s := &Service{
		repo:       repo,
		printer:    printer,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		classifier: classifier,
		now:        time.Now,
	}
	s.alloc = SequenceAllocator{OnMalformed: func(scope NumberScope, value string) {
		s.logger.Warn("pallet: stored number has no numeric suffix, counted as 0",
			slog.String("scope", scope.String()), slog.String("value", value))
	}}
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePallet allocates the next temporary number and stores a new open pallet.
func (s *Service) CreatePallet(ctx context.Context, in CreatePalletInput) (*Pallet, error) {
	if !in.Division.Valid() {
		return nil, fieldError("division", fmt.Sprintf("unknown division %q", in.Division))
	}
	platform, err := resolvePlatform(in.Platform, in.Division)
	if err != nil {
		return nil, err
	}
	for _, r := range []struct{ field, value string }{
		{"manufacturing_order", in.ManufacturingOrder},
		{"unit_of_measure", in.UnitOfMeasure},
		{"created_by", in.CreatedBy},
	} {
		if strings.TrimSpace(r.value) == "" {
			return nil, fieldError(r.field, "required")
		}
	}

	var created *Pallet
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := s.alloc.NextTemporary(ctx, tx)
		if err != nil {
			return err
		}
		number, err := CreateTemporary(seq, in.Division)
		if err != nil {
			return err
		}
		p, err := NewPallet(number, in.ManufacturingOrder, in.Division, platform, in.UnitOfMeasure, in.CreatedBy, s.now())
		if err != nil {
			return err
		}
		if _, err := tx.InsertPallet(ctx, p); err != nil {
			return fmt.Errorf("insert pallet: %w", err)
		}
		created = p
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "create pallet", err, slog.String("division", string(in.Division)),
			slog.String("manufacturing_order", in.ManufacturingOrder))
		return nil, err
	}
	s.allocated(TemporaryScope())
	s.logger.InfoContext(ctx, "pallet created",
		slog.Int64("pallet_id", created.ID), slog.String("number", created.Number.Value()),
		slog.String("division", string(created.Division)), slog.String("created_by", created.CreatedBy))
	return created, nil
}

// ClosePallet locks a pallet for good. A temporary pallet receives the next
// permanent number of its division in the same transaction. The pallet list
// is printed afterwards on a best-effort basis.
func (s *Service) ClosePallet(ctx context.Context, id int64, actor string) (*Pallet, error) {
	var (
		closed   *Pallet
		assigned int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		assigned = 0
		p, err := tx.LoadPalletForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.IsClosed {
			return ErrAlreadyClosed
		}
		var permanent *PalletNumber
		if p.Number.IsTemporary() {
			seq, err := s.alloc.NextPermanent(ctx, tx, p.Division)
			if err != nil {
				return err
			}
			number, err := CreatePermanent(seq, p.Division)
			if err != nil {
				return err
			}
			permanent = &number
			assigned = seq
		}
		if err := p.Close(permanent, s.now()); err != nil {
			return err
		}
		if err := tx.UpdatePallet(ctx, p); err != nil {
			return fmt.Errorf("update pallet: %w", err)
		}
		closed = p
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "close pallet", err, slog.Int64("pallet_id", id), slog.String("actor", actor))
		return nil, err
	}
	if assigned > 0 {
		s.allocated(PermanentScope(closed.Division))
		if s.metrics != nil {
			s.metrics.PermanentSequence(string(closed.Division), assigned)
		}
	}
	if s.metrics != nil {
		s.metrics.PalletClosed(string(closed.Division))
	}
	s.logger.InfoContext(ctx, "pallet closed",
		slog.Int64("pallet_id", closed.ID), slog.String("number", closed.Number.Value()),
		slog.String("actor", actor))

	if s.cache != nil {
		if err := s.cache.Put(ctx, closed); err != nil {
			s.logger.WarnContext(ctx, "cache closed pallet", slog.Int64("pallet_id", closed.ID), slog.Any("error", err))
		}
	}
	if s.printer != nil {
		if err := s.printer.PrintPalletList(ctx, closed.ID); err != nil {
			s.logger.WarnContext(ctx, "print pallet list after close", slog.Int64("pallet_id", closed.ID), slog.Any("error", err))
		}
	}
	return closed, nil
}

// AddItem creates an item on an open pallet.
func (s *Service) AddItem(ctx context.Context, palletID int64, in ItemInput) (*Item, error) {
	var added *Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := NewItem(in, s.now())
		if err != nil {
			return err
		}
		p, err := tx.LoadPalletForUpdate(ctx, palletID)
		if err != nil {
			return err
		}
		for _, existing := range p.items {
			if existing.ItemNumber == item.ItemNumber {
				return fmt.Errorf("%w: %s", ErrDuplicateItemNumber, item.ItemNumber)
			}
		}
		if err := p.AddItem(item); err != nil {
			return err
		}
		if _, err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		if err := tx.UpdatePallet(ctx, p); err != nil {
			return fmt.Errorf("update pallet: %w", err)
		}
		added = item
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "add item", err, slog.Int64("pallet_id", palletID), slog.String("item_number", in.ItemNumber))
		return nil, err
	}
	return added, nil
}

// UpdateItem changes the editable physical fields of an item on an open pallet.
func (s *Service) UpdateItem(ctx context.Context, itemID int64, u ItemUpdate) (*Item, error) {
	var updated *Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, item, err := s.lockItemOwner(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := item.Update(p, u); err != nil {
			return err
		}
		if err := tx.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		updated = item
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "update item", err, slog.Int64("item_id", itemID))
		return nil, err
	}
	return updated, nil
}

// MoveItem moves an item to another pallet. Both pallets must be open.
func (s *Service) MoveItem(ctx context.Context, itemID, targetPalletID int64) (*Item, error) {
	var moved *Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadItem(ctx, itemID)
		if err != nil {
			return err
		}
		if current.PalletID == targetPalletID {
			return ErrSamePallet
		}
		// lock in id order so concurrent opposite moves cannot deadlock
		firstID, secondID := current.PalletID, targetPalletID
		if firstID > secondID {
			firstID, secondID = secondID, firstID
		}
		first, err := tx.LoadPalletForUpdate(ctx, firstID)
		if err != nil {
			return err
		}
		second, err := tx.LoadPalletForUpdate(ctx, secondID)
		if err != nil {
			return err
		}
		source, target := first, second
		if source.ID != current.PalletID {
			source, target = second, first
		}
		item, ok := source.Item(itemID)
		if !ok {
			return fmt.Errorf("%w: item %d moved concurrently", ErrNotFound, itemID)
		}
		if err := MoveItem(item, source, target); err != nil {
			return err
		}
		if err := tx.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if err := tx.UpdatePallet(ctx, source); err != nil {
			return fmt.Errorf("update source pallet: %w", err)
		}
		if err := tx.UpdatePallet(ctx, target); err != nil {
			return fmt.Errorf("update target pallet: %w", err)
		}
		moved = item
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "move item", err, slog.Int64("item_id", itemID), slog.Int64("target_pallet_id", targetPalletID))
		return nil, err
	}
	return moved, nil
}

// RemoveItem deletes an item from its open pallet.
func (s *Service) RemoveItem(ctx context.Context, itemID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, item, err := s.lockItemOwner(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := p.RemoveItem(item); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if err := tx.UpdatePallet(ctx, p); err != nil {
			return fmt.Errorf("update pallet: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "remove item", err, slog.Int64("item_id", itemID))
	}
	return err
}

// GetPallet returns a pallet with its items.
func (s *Service) GetPallet(ctx context.Context, id int64) (*Pallet, error) {
	if p, ok := s.cached(ctx, func() (*Pallet, bool, error) { return s.cache.Get(ctx, id) }); ok {
		return p, nil
	}
	p, err := s.repo.GetPallet(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, p)
	return p, nil
}

// GetPalletByNumber returns a pallet by its current number.
func (s *Service) GetPalletByNumber(ctx context.Context, number string) (*Pallet, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fieldError("number", "required")
	}
	if p, ok := s.cached(ctx, func() (*Pallet, bool, error) { return s.cache.GetByNumber(ctx, number) }); ok {
		return p, nil
	}
	p, err := s.repo.GetPalletByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, p)
	return p, nil
}

// ListPallets returns one page of pallets. Items are not loaded.
func (s *Service) ListPallets(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Division != "" && !filter.Division.Valid() {
		return ListResult{}, fieldError("division", fmt.Sprintf("unknown division %q", filter.Division))
	}
	filter = filter.normalised()
	pallets, total, err := s.repo.ListPallets(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{
		Pallets:    pallets,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	}, nil
}

// GetItem returns a single item.
func (s *Service) GetItem(ctx context.Context, id int64) (*Item, error) {
	return s.repo.GetItem(ctx, id)
}

// FindItems looks items up by pallet, item number, order or client.
func (s *Service) FindItems(ctx context.Context, filter ItemFilter) ([]*Item, error) {
	return s.repo.FindItems(ctx, filter)
}

// PrintPalletList requests a pallet list print. Unlike the print after
// close, failures are returned to the caller.
func (s *Service) PrintPalletList(ctx context.Context, palletID int64) error {
	if _, err := s.GetPallet(ctx, palletID); err != nil {
		return err
	}
	if s.printer == nil {
		return errors.New("pallet: no printer configured")
	}
	return s.printer.PrintPalletList(ctx, palletID)
}

// PrintItemLabel requests an item label print.
func (s *Service) PrintItemLabel(ctx context.Context, itemID int64) error {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return err
	}
	if s.printer == nil {
		return errors.New("pallet: no printer configured")
	}
	return s.printer.PrintItemLabel(ctx, itemID)
}

// IsSpecialClient reports whether item belongs to the reserved client whose
// labels go to a dedicated printer.
func (s *Service) IsSpecialClient(item *Item) bool {
	if item == nil {
		return false
	}
	return s.classifier.IsSpecial(item.ClientCode, item.ClientName)
}

func (s *Service) lockItemOwner(ctx context.Context, tx TxRepository, itemID int64) (*Pallet, *Item, error) {
	current, err := tx.LoadItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	p, err := tx.LoadPalletForUpdate(ctx, current.PalletID)
	if err != nil {
		return nil, nil, err
	}
	item, ok := p.Item(itemID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: item %d moved concurrently", ErrNotFound, itemID)
	}
	return p, item, nil
}

func (s *Service) cached(ctx context.Context, get func() (*Pallet, bool, error)) (*Pallet, bool) {
	if s.cache == nil {
		return nil, false
	}
	p, ok, err := get()
	if err != nil {
		s.logger.WarnContext(ctx, "read pallet cache", slog.Any("error", err))
		return nil, false
	}
	return p, ok
}

func (s *Service) remember(ctx context.Context, p *Pallet) {
	if s.cache == nil || p == nil || !p.IsClosed {
		return
	}
	if err := s.cache.Put(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "cache closed pallet", slog.Int64("pallet_id", p.ID), slog.Any("error", err))
	}
}

func (s *Service) allocated(scope NumberScope) {
	if s.metrics != nil {
		s.metrics.NumberAllocated(scope.String())
	}
}

// logFailure keeps expected rejections at debug level and logs everything
// else as an error.
func (s *Service) logFailure(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	level := slog.LevelError
	if errors.Is(err, ErrValidation) || IsDomainError(err) {
		level = slog.LevelDebug
	}
	attrs = append(attrs, slog.String("op", op), slog.Any("error", err))
	s.logger.LogAttrs(ctx, level, "pallet operation failed", attrs...)
}
