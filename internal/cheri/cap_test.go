package cheri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredPrecision(t *testing.T) {
	cases := []struct {
		name   string
		offset uint64
		length uint64
		want   uint32
	}{
		{"aligned megabyte", 0x00000000, 0x00100000, 1},
		{"word aligned page", 0x00000004, 0x00001000, 11},
		{"single byte", 0x0FFFFFFF, 0x00000001, 1},
		{"unaligned span", 0x00000FFF, 0x00001002, 13},
		{"zero length", 0x1234, 0, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Cap128.RequiredPrecision(c.offset, c.length))
		})
	}
}

func TestMaxRepresentableLength(t *testing.T) {
	cases := []struct {
		base uint64
		want uint64
	}{
		{0xf1, 0xfff},
		{0xf2, 0xfff},
		{0xf4, 0xfff},
		{0xf8, 0x1ff8},
		{0xf0, 0x3ff0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Cap128.MaxRepresentableLength(c.base),
			"base=%#x", c.base)
	}
}

func TestRepresentableRangeExact(t *testing.T) {
	// Regions whose required precision fits in the mantissa come back
	// unchanged.
	cases := []struct {
		offset uint64
		length uint64
	}{
		{0, 0x100000},
		{0x4, 0x1000},
		{0x0FFFFFFF, 1},
		{0x40, 0x40},
	}
	for _, c := range cases {
		base, length := Cap128.RepresentableRange(c.offset, c.length)
		assert.Equal(t, c.offset, base, "offset=%#x len=%#x", c.offset, c.length)
		assert.Equal(t, c.length, length, "offset=%#x len=%#x", c.offset, c.length)
	}
}

func TestRepresentableRangeRounds(t *testing.T) {
	// A large unaligned region must be widened: the base aligns down,
	// the length aligns up, and the result still encloses the request.
	offset := uint64(0x00000FFF)
	length := uint64(0x00100000)

	base, enclosed := Cap128.RepresentableRange(offset, length)
	assert.LessOrEqual(t, base, offset)
	assert.GreaterOrEqual(t, base+enclosed, offset+length)
	assert.True(t, base != offset || enclosed != length,
		"expected imprecise bounds for %#x+%#x", offset, length)
}

func TestRepresentableRangeZeroLength(t *testing.T) {
	base, enclosed := Cap128.RepresentableRange(0x123, 0)
	assert.Equal(t, uint64(0x123), base)
	assert.Equal(t, uint64(0), enclosed)
}

func TestPrecisionImpliesExactRange(t *testing.T) {
	// Whenever the required precision fits the mantissa, the
	// representable range must be exact, and vice versa.
	offsets := []uint64{0, 1, 0x7f, 0x80, 0xfff, 0x1000, 0xfffff3}
	lengths := []uint64{1, 3, 0x10, 0x3fff, 0x4000, 0x100001}
	for _, o := range offsets {
		for _, l := range lengths {
			base, enclosed := Cap128.RepresentableRange(o, l)
			exact := base == o && enclosed == l
			fits := Cap128.RequiredPrecision(o, l) <= Cap128.MantissaBits
			if fits {
				assert.True(t, exact, "offset=%#x len=%#x", o, l)
			} else {
				assert.False(t, exact, "offset=%#x len=%#x", o, l)
			}
		}
	}
}
