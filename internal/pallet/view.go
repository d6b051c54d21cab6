package pallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// PalletView is the flat JSON shape of a pallet.
type PalletView struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"number"`
	NumberIsTemporary  bool            `json:"number_is_temporary"`
	NumberDivision     Division        `json:"number_division"`
	TemporaryNumber    string          `json:"temporary_number,omitempty"`
	ManufacturingOrder string          `json:"manufacturing_order"`
	Division           Division        `json:"division"`
	Platform           Platform        `json:"platform"`
	UnitOfMeasure      string          `json:"unit_of_measure"`
	Quantity           decimal.Decimal `json:"quantity"`
	IsClosed           bool            `json:"is_closed"`
	CreatedDate        time.Time       `json:"created_date"`
	ClosedDate         *time.Time      `json:"closed_date,omitempty"`
	CreatedBy          string          `json:"created_by"`
	Version            int64           `json:"version"`
	Items              []ItemView      `json:"items"`
}

// ItemView is the flat JSON shape of an item.
type ItemView struct {
	ID                 int64           `json:"id"`
	ItemNumber         string          `json:"item_number"`
	PalletID           int64           `json:"pallet_id"`
	OrderNumber        string          `json:"order_number"`
	ClientCode         string          `json:"client_code"`
	ClientName         string          `json:"client_name"`
	ProductCode        string          `json:"product_code"`
	ProductDescription string          `json:"product_description"`
	Quantity           decimal.Decimal `json:"quantity"`
	Weight             decimal.Decimal `json:"weight"`
	Width              decimal.Decimal `json:"width"`
	Quality            string          `json:"quality"`
	Batch              string          `json:"batch"`
	CreatedDate        time.Time       `json:"created_date"`
}

// ToView flattens a pallet and its items.
func ToView(p *Pallet) PalletView {
	v := PalletView{
		ID:                 p.ID,
		Number:             p.Number.Value(),
		NumberIsTemporary:  p.Number.IsTemporary(),
		NumberDivision:     p.Number.Division(),
		ManufacturingOrder: p.ManufacturingOrder,
		Division:           p.Division,
		Platform:           p.Platform,
		UnitOfMeasure:      p.UnitOfMeasure,
		Quantity:           p.Quantity,
		IsClosed:           p.IsClosed,
		CreatedDate:        p.CreatedDate,
		ClosedDate:         p.ClosedDate,
		CreatedBy:          p.CreatedBy,
		Version:            p.Version,
		Items:              make([]ItemView, 0, len(p.items)),
	}
	if p.TemporaryNumber != nil {
		v.TemporaryNumber = p.TemporaryNumber.Value()
	}
	for _, it := range p.items {
		v.Items = append(v.Items, ToItemView(it))
	}
	return v
}

// ToItemView flattens an item.
func ToItemView(it *Item) ItemView {
	return ItemView{
		ID:                 it.ID,
		ItemNumber:         it.ItemNumber,
		PalletID:           it.PalletID,
		OrderNumber:        it.OrderNumber,
		ClientCode:         it.ClientCode,
		ClientName:         it.ClientName,
		ProductCode:        it.ProductCode,
		ProductDescription: it.ProductDescription,
		Quantity:           it.Quantity,
		Weight:             it.Weight,
		Width:              it.Width,
		Quality:            it.Quality,
		Batch:              it.Batch,
		CreatedDate:        it.CreatedDate,
	}
}

// toPallet rebuilds the aggregate from its view.
func (v PalletView) toPallet() *Pallet {
	p := &Pallet{
		ID:                 v.ID,
		Number:             restoreNumber(v.Number, v.NumberIsTemporary, v.NumberDivision),
		ManufacturingOrder: v.ManufacturingOrder,
		Division:           v.Division,
		Platform:           v.Platform,
		UnitOfMeasure:      v.UnitOfMeasure,
		IsClosed:           v.IsClosed,
		CreatedDate:        v.CreatedDate,
		ClosedDate:         v.ClosedDate,
		CreatedBy:          v.CreatedBy,
		Version:            v.Version,
	}
	if v.TemporaryNumber != "" {
		origin := restoreNumber(v.TemporaryNumber, true, v.NumberDivision)
		p.TemporaryNumber = &origin
	}
	items := make([]*Item, 0, len(v.Items))
	for _, iv := range v.Items {
		items = append(items, &Item{
			ID:                 iv.ID,
			ItemNumber:         iv.ItemNumber,
			PalletID:           iv.PalletID,
			OrderNumber:        iv.OrderNumber,
			ClientCode:         iv.ClientCode,
			ClientName:         iv.ClientName,
			ProductCode:        iv.ProductCode,
			ProductDescription: iv.ProductDescription,
			Quantity:           iv.Quantity,
			Weight:             iv.Weight,
			Width:              iv.Width,
			Quality:            iv.Quality,
			Batch:              iv.Batch,
			CreatedDate:        iv.CreatedDate,
		})
	}
	p.attachLoaded(items)
	return p
}
