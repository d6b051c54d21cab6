package pallet

import (
	"fmt"
	"strconv"
	"strings"
)

// Division enumerates the business divisions issuing pallet numbers.
type Division string

const (
	// DivisionMA is the MA division; permanent numbers start with "P8".
	DivisionMA Division = "MA"
	// DivisionTC is the TC division; permanent numbers start with "47".
	DivisionTC Division = "TC"
)

const (
	temporaryPrefix = "TEMP-"
	permanentDigits = 5
	// MaxPermanentSequence is the largest sequence a 5-digit number can hold.
	MaxPermanentSequence = 99999
)

var permanentPrefixes = map[Division]string{
	DivisionMA: "P8",
	DivisionTC: "47",
}

// Divisions lists every known division.
func Divisions() []Division {
	return []Division{DivisionMA, DivisionTC}
}

// Valid reports whether d is a known division.
func (d Division) Valid() bool {
	_, ok := permanentPrefixes[d]
	return ok
}

// ParseDivision normalises user input into a Division.
func ParseDivision(raw string) (Division, error) {
	d := Division(strings.ToUpper(strings.TrimSpace(raw)))
	if !d.Valid() {
		return "", fieldError("division", fmt.Sprintf("unknown division %q", raw))
	}
	return d, nil
}

// PalletNumber is an immutable pallet identifier. Two numbers are equal when
// their values are equal; the zero value is "no number".
type PalletNumber struct {
	value     string
	temporary bool
	division  Division
}

// CreateTemporary renders "TEMP-<seq>".
func CreateTemporary(seq int, division Division) (PalletNumber, error) {
	if seq <= 0 {
		return PalletNumber{}, fieldError("sequence", "temporary sequence must be positive")
	}
	if !division.Valid() {
		return PalletNumber{}, ErrInvalidDivision
	}
	return PalletNumber{
		value:     temporaryPrefix + strconv.Itoa(seq),
		temporary: true,
		division:  division,
	}, nil
}

// CreatePermanent renders the division prefix followed by a 5-digit zero padded sequence.
func CreatePermanent(seq int, division Division) (PalletNumber, error) {
	prefix, ok := permanentPrefixes[division]
	if !ok {
		return PalletNumber{}, ErrInvalidDivision
	}
	if seq <= 0 {
		return PalletNumber{}, fieldError("sequence", "permanent sequence must be positive")
	}
	if seq > MaxPermanentSequence {
		return PalletNumber{}, ErrSequenceExhausted
	}
	return PalletNumber{
		value:    fmt.Sprintf("%s%0*d", prefix, permanentDigits, seq),
		division: division,
	}, nil
}

// ValidateFormat reports whether value is a temporary number, or a permanent
// number in the format of division.
func ValidateFormat(value string, division Division) bool {
	if isTemporaryValue(value) {
		return true
	}
	prefix, ok := permanentPrefixes[division]
	if !ok {
		return false
	}
	if len(value) != len(prefix)+permanentDigits || !strings.HasPrefix(value, prefix) {
		return false
	}
	return allDigits(value[len(prefix):])
}

// ParseNumber validates a rendered value, e.g. a number scanned off a label.
func ParseNumber(value string, division Division) (PalletNumber, error) {
	value = strings.TrimSpace(value)
	if !division.Valid() {
		return PalletNumber{}, ErrInvalidDivision
	}
	if !ValidateFormat(value, division) {
		return PalletNumber{}, fieldError("number", fmt.Sprintf("%q is not a valid %s pallet number", value, division))
	}
	return PalletNumber{value: value, temporary: isTemporaryValue(value), division: division}, nil
}

// restoreNumber maps stored columns back onto a PalletNumber without format
// checks, so legacy rows stay loadable.
func restoreNumber(value string, temporary bool, division Division) PalletNumber {
	return PalletNumber{value: value, temporary: temporary, division: division}
}

// Value returns the rendered identifier.
func (n PalletNumber) Value() string { return n.value }

// IsTemporary reports whether the number is a temporary one.
func (n PalletNumber) IsTemporary() bool { return n.temporary }

// Division returns the division the number was issued under.
func (n PalletNumber) Division() Division { return n.division }

// IsZero reports whether n carries no value.
func (n PalletNumber) IsZero() bool { return n.value == "" }

// Equal compares numbers by value.
func (n PalletNumber) Equal(other PalletNumber) bool { return n.value == other.value }

func (n PalletNumber) String() string { return n.value }

// sequenceOf extracts the numeric suffix of value for the given scope.
// Anything that does not parse counts as 0.
func sequenceOf(value string, scope NumberScope) (int, bool) {
	var digits string
	if scope.Temporary {
		if !strings.HasPrefix(value, temporaryPrefix) {
			return 0, false
		}
		digits = value[len(temporaryPrefix):]
	} else {
		prefix := permanentPrefixes[scope.Division]
		if prefix == "" || !strings.HasPrefix(value, prefix) {
			return 0, false
		}
		digits = value[len(prefix):]
	}
	if digits == "" || !allDigits(digits) {
		return 0, false
	}
	seq, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func isTemporaryValue(value string) bool {
	if !strings.HasPrefix(value, temporaryPrefix) {
		return false
	}
	digits := value[len(temporaryPrefix):]
	if digits == "" || !allDigits(digits) {
		return false
	}
	seq, err := strconv.Atoi(digits)
	return err == nil && seq > 0
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
