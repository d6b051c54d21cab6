package pallet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTemporary(t *testing.T) {
	n, err := CreateTemporary(1, DivisionMA)
	require.NoError(t, err)
	require.Equal(t, "TEMP-1", n.Value())
	require.True(t, n.IsTemporary())
	require.Equal(t, DivisionMA, n.Division())

	n, err = CreateTemporary(1234, DivisionTC)
	require.NoError(t, err)
	require.Equal(t, "TEMP-1234", n.Value())

	_, err = CreateTemporary(0, DivisionMA)
	require.ErrorIs(t, err, ErrValidation)

	_, err = CreateTemporary(1, "XX")
	require.ErrorIs(t, err, ErrInvalidDivision)
}

func TestCreatePermanent(t *testing.T) {
	cases := []struct {
		seq      int
		division Division
		want     string
	}{
		{1, DivisionMA, "P800001"},
		{1, DivisionTC, "4700001"},
		{42, DivisionTC, "4700042"},
		{99999, DivisionMA, "P899999"},
	}
	for _, tc := range cases {
		n, err := CreatePermanent(tc.seq, tc.division)
		require.NoError(t, err)
		require.Equal(t, tc.want, n.Value())
		require.False(t, n.IsTemporary())
		require.Equal(t, tc.division, n.Division())
	}

	_, err := CreatePermanent(100000, DivisionMA)
	require.ErrorIs(t, err, ErrSequenceExhausted)

	_, err = CreatePermanent(0, DivisionTC)
	require.ErrorIs(t, err, ErrValidation)

	_, err = CreatePermanent(1, "")
	require.ErrorIs(t, err, ErrInvalidDivision)
}

func TestPermanentNumberRoundTrip(t *testing.T) {
	for _, division := range Divisions() {
		other := DivisionTC
		if division == DivisionTC {
			other = DivisionMA
		}
		for seq := 1; seq <= MaxPermanentSequence; seq++ {
			n, err := CreatePermanent(seq, division)
			require.NoError(t, err)
			if !ValidateFormat(n.Value(), division) || ValidateFormat(n.Value(), other) {
				t.Fatalf("%s: %s does not validate for its division only", division, n.Value())
			}
			got, ok := sequenceOf(n.Value(), PermanentScope(division))
			if !ok || got != seq {
				t.Fatalf("%s: sequence of %s = %d, want %d", division, n.Value(), got, seq)
			}
		}
	}
}

func TestValidateFormat(t *testing.T) {
	require.True(t, ValidateFormat("TEMP-7", DivisionMA))
	require.True(t, ValidateFormat("TEMP-7", DivisionTC))
	require.True(t, ValidateFormat("P812345", DivisionMA))
	require.True(t, ValidateFormat("4712345", DivisionTC))

	require.False(t, ValidateFormat("P812345", DivisionTC))
	require.False(t, ValidateFormat("4712345", DivisionMA))
	require.False(t, ValidateFormat("P81234", DivisionMA))
	require.False(t, ValidateFormat("P8123456", DivisionMA))
	require.False(t, ValidateFormat("P81234A", DivisionMA))
	require.False(t, ValidateFormat("TEMP-", DivisionMA))
	require.False(t, ValidateFormat("TEMP-0", DivisionMA))
	require.False(t, ValidateFormat("TEMP-x1", DivisionMA))
	require.False(t, ValidateFormat("", DivisionMA))
	require.False(t, ValidateFormat("P812345", "XX"))
}

func TestParseNumber(t *testing.T) {
	n, err := ParseNumber(" P800010 ", DivisionMA)
	require.NoError(t, err)
	require.Equal(t, "P800010", n.Value())
	require.False(t, n.IsTemporary())

	n, err = ParseNumber("TEMP-3", DivisionTC)
	require.NoError(t, err)
	require.True(t, n.IsTemporary())

	_, err = ParseNumber("4700010", DivisionMA)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "number", verr.Field)
}

func TestPalletNumberEquality(t *testing.T) {
	a, err := CreatePermanent(5, DivisionMA)
	require.NoError(t, err)
	b, err := ParseNumber("P800005", DivisionMA)
	require.NoError(t, err)
	require.True(t, a.Equal(b))
	require.Equal(t, a, b)
	require.True(t, PalletNumber{}.IsZero())
	require.Equal(t, "P800005", a.String())
}

func TestSequenceOf(t *testing.T) {
	cases := []struct {
		value string
		scope NumberScope
		seq   int
		ok    bool
	}{
		{"TEMP-12", TemporaryScope(), 12, true},
		{"TEMP-abc", TemporaryScope(), 0, false},
		{"TEMP-", TemporaryScope(), 0, false},
		{"P800012", TemporaryScope(), 0, false},
		{"P800012", PermanentScope(DivisionMA), 12, true},
		{"4700099", PermanentScope(DivisionTC), 99, true},
		{"4700099", PermanentScope(DivisionMA), 0, false},
		{"P8ABCDE", PermanentScope(DivisionMA), 0, false},
	}
	for _, tc := range cases {
		seq, ok := sequenceOf(tc.value, tc.scope)
		require.Equal(t, tc.ok, ok, tc.value)
		require.Equal(t, tc.seq, seq, tc.value)
	}
}

func TestParseDivision(t *testing.T) {
	d, err := ParseDivision(" ma ")
	require.NoError(t, err)
	require.Equal(t, DivisionMA, d)

	_, err = ParseDivision("QQ")
	require.ErrorIs(t, err, ErrValidation)
	require.ElementsMatch(t, []Division{DivisionMA, DivisionTC}, Divisions())
}

func TestPlatformsPerDivision(t *testing.T) {
	require.Equal(t, PlatformTEC1, DefaultPlatformForDivision(DivisionMA))
	require.Equal(t, PlatformTEC1, DefaultPlatformForDivision(DivisionTC))
	require.Empty(t, DefaultPlatformForDivision("XX"))

	require.True(t, IsValidPlatformForDivision(PlatformTEC4I, DivisionMA))
	require.False(t, IsValidPlatformForDivision(PlatformTEC4I, DivisionTC))
	require.True(t, IsValidPlatformForDivision(PlatformTEC5, DivisionTC))
	require.False(t, IsValidPlatformForDivision(PlatformTEC3, DivisionMA))

	p, err := resolvePlatform("", DivisionTC)
	require.NoError(t, err)
	require.Equal(t, PlatformTEC1, p)

	p, err = resolvePlatform(" tec2 ", DivisionMA)
	require.NoError(t, err)
	require.Equal(t, PlatformTEC2, p)

	_, err = resolvePlatform("TEC5", DivisionMA)
	require.ErrorIs(t, err, ErrValidation)

	allowed := PlatformsForDivision(DivisionMA)
	allowed[0] = "MUTATED"
	require.Equal(t, PlatformTEC1, PlatformsForDivision(DivisionMA)[0])
}
