package window

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func TestAllocateUnderCapPassesThrough(t *testing.T) {
	entries := []Entry{
		{ID: uuid.New(), Amount: d(300)},
		{ID: uuid.New(), Amount: d(200)},
	}
	allocations := Allocate(d(1000), entries)
	require.Len(t, allocations, 2)
	for i, a := range allocations {
		assert.True(t, a.Scaled.Equal(entries[i].Amount))
		assert.True(t, a.Remainder.IsZero())
	}
}

func TestAllocateScalesToCapExactly(t *testing.T) {
	entries := []Entry{
		{ID: uuid.New(), Amount: d(700_000)},
		{ID: uuid.New(), Amount: d(500_000)},
	}
	cap := d(1_000_000)
	allocations := Allocate(cap, entries)
	require.Len(t, allocations, 2)

	// 700k/1.2M and 500k/1.2M of the cap: floors are 583333 and 416666, and
	// the leftover unit goes to the larger fractional remainder
	assert.True(t, allocations[0].Scaled.Equal(d(583_333)), "got %s", allocations[0].Scaled)
	assert.True(t, allocations[1].Scaled.Equal(d(416_667)), "got %s", allocations[1].Scaled)

	sum := allocations[0].Scaled.Add(allocations[1].Scaled)
	assert.True(t, sum.Equal(cap))

	assert.True(t, allocations[0].Remainder.Equal(d(116_667)))
	assert.True(t, allocations[1].Remainder.Equal(d(83_333)))
}

func TestAllocateNeverExceedsRequested(t *testing.T) {
	entries := []Entry{
		{ID: uuid.New(), Amount: d(10)},
		{ID: uuid.New(), Amount: d(990)},
		{ID: uuid.New(), Amount: d(500)},
	}
	cap := d(900)
	allocations := Allocate(cap, entries)

	sum := decimal.Zero
	for i, a := range allocations {
		assert.True(t, a.Scaled.LessThanOrEqual(entries[i].Amount),
			"entry %d allocated %s over requested %s", i, a.Scaled, entries[i].Amount)
		assert.False(t, a.Scaled.IsNegative())
		assert.True(t, a.Scaled.Add(a.Remainder).Equal(entries[i].Amount))
		sum = sum.Add(a.Scaled)
	}
	assert.True(t, sum.Equal(cap), "allocated %s of cap %s", sum, cap)
}

func TestAllocateTieBreaksByAscendingID(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	// Equal demand, odd cap: fractional remainders tie at .5 and the single
	// leftover unit must land on the lower id
	entries := []Entry{
		{ID: high, Amount: d(100)},
		{ID: low, Amount: d(100)},
	}
	allocations := Allocate(d(101), entries)

	byID := map[uuid.UUID]Allocation{}
	for _, a := range allocations {
		byID[a.ID] = a
	}
	assert.True(t, byID[low].Scaled.Equal(d(51)), "low id got %s", byID[low].Scaled)
	assert.True(t, byID[high].Scaled.Equal(d(50)), "high id got %s", byID[high].Scaled)
}

func TestAllocateZeroDemand(t *testing.T) {
	allocations := Allocate(d(1000), nil)
	assert.Empty(t, allocations)
}

func TestAllocateTinyCapStarvesSmallestRemainders(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	entries := []Entry{
		{ID: a, Amount: d(400)},
		{ID: b, Amount: d(400)},
		{ID: c, Amount: d(400)},
	}
	allocations := Allocate(d(2), entries)

	sum := decimal.Zero
	zeroes := 0
	for _, alloc := range allocations {
		sum = sum.Add(alloc.Scaled)
		if alloc.Scaled.IsZero() {
			zeroes++
		}
	}
	assert.True(t, sum.Equal(d(2)))
	assert.Equal(t, 1, zeroes, "one entry must receive nothing")
}
