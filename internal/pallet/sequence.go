package pallet

import (
	"context"
	"fmt"
)

// NumberScope selects the numbers a sequence is derived from: all temporary
// numbers, or the permanent numbers of one division.
type NumberScope struct {
	Temporary bool
	Division  Division
}

// TemporaryScope is the global temporary numbering scope.
func TemporaryScope() NumberScope { return NumberScope{Temporary: true} }

// PermanentScope is the permanent numbering scope of a division.
func PermanentScope(d Division) NumberScope { return NumberScope{Division: d} }

func (s NumberScope) String() string {
	if s.Temporary {
		return "temporary"
	}
	return "permanent:" + string(s.Division)
}

// NumberLister lists every issued number within a scope. Temporary scope
// includes the origin temporary numbers of closed pallets.
type NumberLister interface {
	ListNumbers(ctx context.Context, scope NumberScope) ([]string, error)
}

// SequenceAllocator derives the next number of a scope as max(existing)+1.
// It must run inside the transaction that inserts the number; the unique
// number indexes turn a lost race into a retryable conflict.
type SequenceAllocator struct {
	// OnMalformed is called for stored values whose suffix does not parse.
	OnMalformed func(scope NumberScope, value string)
}

// NextTemporary returns the next global temporary sequence.
func (a SequenceAllocator) NextTemporary(ctx context.Context, tx NumberLister) (int, error) {
	return a.next(ctx, tx, TemporaryScope())
}

// NextPermanent returns the next permanent sequence of division.
func (a SequenceAllocator) NextPermanent(ctx context.Context, tx NumberLister, division Division) (int, error) {
	if !division.Valid() {
		return 0, ErrInvalidDivision
	}
	seq, err := a.next(ctx, tx, PermanentScope(division))
	if err != nil {
		return 0, err
	}
	if seq > MaxPermanentSequence {
		return 0, ErrSequenceExhausted
	}
	return seq, nil
}

func (a SequenceAllocator) next(ctx context.Context, tx NumberLister, scope NumberScope) (int, error) {
	values, err := tx.ListNumbers(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("pallet: list %s numbers: %w", scope, err)
	}
	highest := 0
	for _, v := range values {
		seq, ok := sequenceOf(v, scope)
		if !ok && a.OnMalformed != nil {
			a.OnMalformed(scope, v)
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest + 1, nil
}
