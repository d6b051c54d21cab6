package pallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pallet is the aggregate root owning its items.
type Pallet struct {
	ID     int64
	Number PalletNumber
	// TemporaryNumber is the temporary number the pallet was created with.
	// It survives the switch to a permanent number on close.
	TemporaryNumber    *PalletNumber
	ManufacturingOrder string
	Division           Division
	Platform           Platform
	UnitOfMeasure      string
	Quantity           decimal.Decimal
	IsClosed           bool
	CreatedDate        time.Time
	ClosedDate         *time.Time
	CreatedBy          string
	Version            int64

	items []*Item
}

// Item is a unit placed on a pallet. PalletID is a lookup-only back reference
// maintained by the owning pallet.
type Item struct {
	ID                 int64
	ItemNumber         string
	PalletID           int64
	OrderNumber        string
	ClientCode         string
	ClientName         string
	ProductCode        string
	ProductDescription string
	Quantity           decimal.Decimal
	Weight             decimal.Decimal
	Width              decimal.Decimal
	Quality            string
	Batch              string
	CreatedDate        time.Time
}

// ItemInput describes a new item.
type ItemInput struct {
	ItemNumber         string
	OrderNumber        string
	ClientCode         string
	ClientName         string
	ProductCode        string
	ProductDescription string
	Quantity           decimal.Decimal
	Weight             decimal.Decimal
	Width              decimal.Decimal
	Quality            string
	Batch              string
}

// ItemUpdate carries the editable physical fields of an item.
type ItemUpdate struct {
	Weight  decimal.Decimal
	Width   decimal.Decimal
	Quality string
	Batch   string
}

// NewPallet builds an open pallet with no items.
func NewPallet(number PalletNumber, manufacturingOrder string, division Division, platform Platform, unitOfMeasure, createdBy string, now time.Time) (*Pallet, error) {
	if number.IsZero() {
		return nil, fieldError("number", "required")
	}
	if !division.Valid() {
		return nil, ErrInvalidDivision
	}
	if number.Division() != division {
		return nil, fieldError("number", fmt.Sprintf("number issued for %s, pallet belongs to %s", number.Division(), division))
	}
	required := []struct{ field, value string }{
		{"manufacturing_order", manufacturingOrder},
		{"platform", string(platform)},
		{"unit_of_measure", unitOfMeasure},
		{"created_by", createdBy},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, fieldError(r.field, "required")
		}
	}
	p := &Pallet{
		Number:             number,
		ManufacturingOrder: strings.TrimSpace(manufacturingOrder),
		Division:           division,
		Platform:           platform,
		UnitOfMeasure:      strings.TrimSpace(unitOfMeasure),
		Quantity:           decimal.Zero,
		CreatedDate:        now,
		CreatedBy:          strings.TrimSpace(createdBy),
	}
	if number.IsTemporary() {
		origin := number
		p.TemporaryNumber = &origin
	}
	return p, nil
}

// NewItem validates input and builds an unassigned item.
func NewItem(in ItemInput, now time.Time) (*Item, error) {
	if strings.TrimSpace(in.ItemNumber) == "" {
		return nil, fieldError("item_number", "required")
	}
	if !in.Quantity.IsPositive() {
		return nil, fieldError("quantity", "must be greater than zero")
	}
	if in.Weight.IsNegative() {
		return nil, itemFieldError("weight", "must not be negative")
	}
	if in.Width.IsNegative() {
		return nil, itemFieldError("width", "must not be negative")
	}
	return &Item{
		ItemNumber:         strings.TrimSpace(in.ItemNumber),
		OrderNumber:        in.OrderNumber,
		ClientCode:         in.ClientCode,
		ClientName:         in.ClientName,
		ProductCode:        in.ProductCode,
		ProductDescription: in.ProductDescription,
		Quantity:           in.Quantity,
		Weight:             in.Weight,
		Width:              in.Width,
		Quality:            in.Quality,
		Batch:              in.Batch,
		CreatedDate:        now,
	}, nil
}

// Items returns the pallet items in insertion order. The slice is a copy;
// the items are shared.
func (p *Pallet) Items() []*Item {
	out := make([]*Item, len(p.items))
	copy(out, p.items)
	return out
}

// Item finds an item on the pallet by id.
func (p *Pallet) Item(id int64) (*Item, bool) {
	for _, it := range p.items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// ItemCount returns the number of items on the pallet.
func (p *Pallet) ItemCount() int { return len(p.items) }

// AddItem places item on the pallet. Adding an item already present is a no-op.
// An item owned by another pallet is rejected; use MoveItem for that.
func (p *Pallet) AddItem(item *Item) error {
	if item == nil {
		return fieldError("item", "required")
	}
	if p.IsClosed {
		return ErrPalletClosed
	}
	if p.indexOf(item) >= 0 {
		return nil
	}
	if item.PalletID != 0 && item.PalletID != p.ID {
		return itemFieldError("pallet_id", fmt.Sprintf("item already belongs to pallet %d, move it instead", item.PalletID))
	}
	item.PalletID = p.ID
	p.items = append(p.items, item)
	p.recomputeQuantity()
	return nil
}

// RemoveItem takes item off the pallet. Removing an absent item is a no-op.
func (p *Pallet) RemoveItem(item *Item) error {
	if item == nil {
		return fieldError("item", "required")
	}
	if p.IsClosed {
		return ErrPalletClosed
	}
	idx := p.indexOf(item)
	if idx < 0 {
		return nil
	}
	p.items = append(p.items[:idx], p.items[idx+1:]...)
	if item.PalletID == p.ID {
		item.PalletID = 0
	}
	p.recomputeQuantity()
	return nil
}

// Close locks the pallet. A temporary pallet takes over permanent; a pallet
// already holding a permanent number keeps it and permanent is ignored.
func (p *Pallet) Close(permanent *PalletNumber, now time.Time) error {
	if p.IsClosed {
		return ErrAlreadyClosed
	}
	if p.Number.IsTemporary() {
		if permanent == nil || permanent.IsZero() {
			return ErrMissingPermanentNumber
		}
		if permanent.IsTemporary() {
			return fieldError("number", "closing number must be permanent")
		}
		if permanent.Division() != p.Division {
			return fieldError("number", fmt.Sprintf("number issued for %s, pallet belongs to %s", permanent.Division(), p.Division))
		}
		if p.TemporaryNumber == nil {
			origin := p.Number
			p.TemporaryNumber = &origin
		}
		p.Number = *permanent
	}
	closedAt := now
	p.IsClosed = true
	p.ClosedDate = &closedAt
	return nil
}

// MoveItem moves item from one pallet to another. Both pallets must be open;
// nothing changes when either guard fails.
func MoveItem(item *Item, from, to *Pallet) error {
	if item == nil || from == nil || to == nil {
		return fieldError("item", "item, source and target pallet are required")
	}
	if from.IsClosed || to.IsClosed {
		return ErrPalletClosed
	}
	if from.ID == to.ID {
		return ErrSamePallet
	}
	if from.indexOf(item) < 0 {
		return ErrNotFound
	}
	if err := from.RemoveItem(item); err != nil {
		return err
	}
	if err := to.AddItem(item); err != nil {
		// unreachable while the guards above hold; keep the item on the source
		_ = from.AddItem(item)
		return err
	}
	return nil
}

// Update changes the editable physical fields while owner is open.
func (i *Item) Update(owner *Pallet, u ItemUpdate) error {
	if owner == nil || owner.ID != i.PalletID {
		return ErrNotFound
	}
	if owner.IsClosed {
		return ErrPalletClosed
	}
	if u.Weight.IsNegative() {
		return itemFieldError("weight", "must not be negative")
	}
	if u.Width.IsNegative() {
		return itemFieldError("width", "must not be negative")
	}
	if strings.TrimSpace(u.Batch) == "" {
		return itemFieldError("batch", "required")
	}
	i.Weight = u.Weight
	i.Width = u.Width
	i.Quality = u.Quality
	i.Batch = strings.TrimSpace(u.Batch)
	return nil
}

// attachLoaded restores items read from storage without the open guard.
func (p *Pallet) attachLoaded(items []*Item) {
	p.items = append(p.items[:0:0], items...)
	p.recomputeQuantity()
}

func (p *Pallet) indexOf(item *Item) int {
	for idx, it := range p.items {
		if it == item {
			return idx
		}
		if item.ID != 0 && it.ID == item.ID {
			return idx
		}
		if item.ItemNumber != "" && it.ItemNumber == item.ItemNumber {
			return idx
		}
	}
	return -1
}

func (p *Pallet) recomputeQuantity() {
	total := decimal.Zero
	for _, it := range p.items {
		total = total.Add(it.Quantity)
	}
	p.Quantity = total
}

// Clone returns a deep copy of the pallet and its items.
func (p *Pallet) Clone() *Pallet {
	if p == nil {
		return nil
	}
	cp := *p
	if p.TemporaryNumber != nil {
		origin := *p.TemporaryNumber
		cp.TemporaryNumber = &origin
	}
	if p.ClosedDate != nil {
		closed := *p.ClosedDate
		cp.ClosedDate = &closed
	}
	cp.items = make([]*Item, 0, len(p.items))
	for _, it := range p.items {
		item := *it
		cp.items = append(cp.items, &item)
	}
	return &cp
}

// Classifier recognises the one reserved client whose labels are routed to a
// dedicated printer.
type Classifier struct {
	Code string
	Name string
}

// DefaultClassifier holds the reserved client pair used when none is configured.
var DefaultClassifier = Classifier{Code: "SPC", Name: "SPECIAL CLIENT"}

// IsSpecial reports whether (code, name) is the reserved client pair.
func (c Classifier) IsSpecial(code, name string) bool {
	if c.Code == "" || c.Name == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(code), c.Code) &&
		strings.EqualFold(strings.TrimSpace(name), c.Name)
}

// IsSpecialClient classifies a client against DefaultClassifier.
func IsSpecialClient(code, name string) bool {
	return DefaultClassifier.IsSpecial(code, name)
}
