package window

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one approved request's demand entering pro-rata allocation
type Entry struct {
	ID     uuid.UUID
	Amount decimal.Decimal
}

// Allocation is the outcome for one entry: the scaled amount that proceeds
// to settlement and the remainder carried over
type Allocation struct {
	ID        uuid.UUID
	Scaled    decimal.Decimal
	Remainder decimal.Decimal
}

// Allocate scales approved demand down to the window cap. Amounts are whole
// token units; each entry receives floor(amount * cap / total) and the
// leftover units are assigned one at a time by largest fractional remainder,
// ties broken by ascending id for determinism. The scaled amounts sum to the
// cap exactly and no entry receives more than it asked for.
func Allocate(cap decimal.Decimal, entries []Entry) []Allocation {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	if total.LessThanOrEqual(cap) || total.IsZero() {
		allocations := make([]Allocation, len(entries))
		for i, e := range entries {
			allocations[i] = Allocation{ID: e.ID, Scaled: e.Amount, Remainder: decimal.Zero}
		}
		return allocations
	}

	type share struct {
		index int
		frac  decimal.Decimal
	}

	allocations := make([]Allocation, len(entries))
	shares := make([]share, len(entries))
	assigned := decimal.Zero

	for i, e := range entries {
		raw := e.Amount.Mul(cap).Div(total)
		floor := raw.Floor()
		allocations[i] = Allocation{ID: e.ID, Scaled: floor}
		shares[i] = share{index: i, frac: raw.Sub(floor)}
		assigned = assigned.Add(floor)
	}

	// Distribute the rounding leftover by largest remainder, ascending id on ties
	leftover := cap.Floor().Sub(assigned)
	sort.SliceStable(shares, func(a, b int) bool {
		cmp := shares[a].frac.Cmp(shares[b].frac)
		if cmp != 0 {
			return cmp > 0
		}
		return entries[shares[a].index].ID.String() < entries[shares[b].index].ID.String()
	})

	one := decimal.NewFromInt(1)
	for _, s := range shares {
		if leftover.LessThan(one) {
			break
		}
		alloc := &allocations[s.index]
		if alloc.Scaled.Add(one).GreaterThan(entries[s.index].Amount) {
			continue
		}
		alloc.Scaled = alloc.Scaled.Add(one)
		leftover = leftover.Sub(one)
	}

	for i, e := range entries {
		allocations[i].Remainder = e.Amount.Sub(allocations[i].Scaled)
	}
	return allocations
}
