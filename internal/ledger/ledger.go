// Package ledger plans card position changes inside (project, status) buckets.
//
// Every bucket holds positions 0..n-1 with no gaps and no duplicates. The
// functions here never look at cards; they take bucket sizes and placements
// and return the bounded position ranges that must shift so the sequence stays
// contiguous once the target card lands. Applying a Plan is the caller's job.
package ledger

import (
	"fmt"
	"sort"

	"kanban/internal/errs"
	"kanban/internal/models"
)

// Placement is a card's column and rank within it.
type Placement struct {
	Status   models.Status
	Position int
}

// Shift moves every sibling of Status whose position lies in [From, To] by Delta.
type Shift struct {
	Status models.Status
	From   int
	To     int
	Delta  int
}

// Covers reports whether a sibling at p is affected by the shift.
func (s Shift) Covers(p Placement) bool {
	return p.Status == s.Status && p.Position >= s.From && p.Position <= s.To
}

// Plan is the full set of sibling shifts plus the final placement of the
// card being inserted, moved or removed.
type Plan struct {
	Shifts []Shift
	Target Placement
}

// Noop reports whether the plan changes nothing.
func (p Plan) Noop() bool {
	return len(p.Shifts) == 0
}

// Relocate returns where a sibling currently at pl ends up under the plan.
// The target card itself is not a sibling and must not be passed here.
func (p Plan) Relocate(pl Placement) Placement {
	for _, s := range p.Shifts {
		if s.Covers(pl) {
			return Placement{Status: pl.Status, Position: pl.Position + s.Delta}
		}
	}
	return pl
}

// Append places a new card at the end of a bucket currently holding size cards.
func Append(status models.Status, size int) (Placement, error) {
	if !status.Valid() {
		return Placement{}, errs.NewInvalidField("status", fmt.Sprintf("unknown status %q", status))
	}
	if size < 0 {
		return Placement{}, fmt.Errorf("negative bucket size %d", size)
	}
	return Placement{Status: status, Position: size}, nil
}

// Move plans moving a card from one placement to another. sourceSize is the
// number of cards in from's bucket (the card included) and destSize the number
// of cards in to's bucket before the move. For same-bucket moves destSize is
// ignored.
//
// The target position means "insert before the card currently at that index":
// after siblings shift, the moved card sits exactly at to.Position.
func Move(from, to Placement, sourceSize, destSize int) (Plan, error) {
	if err := validateStatus(from.Status); err != nil {
		return Plan{}, err
	}
	if err := validateStatus(to.Status); err != nil {
		return Plan{}, err
	}
	if from.Position < 0 || from.Position >= sourceSize {
		return Plan{}, fmt.Errorf("card position %d outside bucket %s of size %d", from.Position, from.Status, sourceSize)
	}

	if from.Status == to.Status {
		if err := validateTarget(to.Position, sourceSize-1); err != nil {
			return Plan{}, err
		}
		plan := Plan{Target: to}
		switch {
		case to.Position < from.Position:
			plan.Shifts = []Shift{{Status: from.Status, From: to.Position, To: from.Position - 1, Delta: 1}}
		case to.Position > from.Position:
			plan.Shifts = []Shift{{Status: from.Status, From: from.Position + 1, To: to.Position, Delta: -1}}
		}
		return plan, nil
	}

	if destSize < 0 {
		return Plan{}, fmt.Errorf("negative bucket size %d", destSize)
	}
	if err := validateTarget(to.Position, destSize); err != nil {
		return Plan{}, err
	}
	plan := Plan{Target: to}
	if from.Position < sourceSize-1 {
		plan.Shifts = append(plan.Shifts, Shift{Status: from.Status, From: from.Position + 1, To: sourceSize - 1, Delta: -1})
	}
	if to.Position < destSize {
		plan.Shifts = append(plan.Shifts, Shift{Status: to.Status, From: to.Position, To: destSize - 1, Delta: 1})
	}
	return plan, nil
}

// Remove plans closing the gap left by deleting the card at at from a bucket
// of size cards (the card included).
func Remove(at Placement, size int) (Plan, error) {
	if err := validateStatus(at.Status); err != nil {
		return Plan{}, err
	}
	if at.Position < 0 || at.Position >= size {
		return Plan{}, fmt.Errorf("card position %d outside bucket %s of size %d", at.Position, at.Status, size)
	}
	plan := Plan{Target: at}
	if at.Position < size-1 {
		plan.Shifts = []Shift{{Status: at.Status, From: at.Position + 1, To: size - 1, Delta: -1}}
	}
	return plan, nil
}

// Verify checks that positions form exactly 0..n-1.
func Verify(positions []int) error {
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	for i, p := range sorted {
		if p != i {
			return fmt.Errorf("positions %v are not contiguous: expected %d at rank %d, got %d", sorted, i, i, p)
		}
	}
	return nil
}

func validateStatus(s models.Status) error {
	if !s.Valid() {
		return errs.NewInvalidField("status", fmt.Sprintf("unknown status %q", s))
	}
	return nil
}

func validateTarget(pos, max int) error {
	if pos < 0 {
		return errs.NewInvalidField("position", "must not be negative")
	}
	if pos > max {
		return errs.NewInvalidField("position", fmt.Sprintf("must be at most %d", max))
	}
	return nil
}
