package ragged

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyGroup is returned when a group would contain no rows.
	ErrEmptyGroup = errors.New("ragged: empty group")
	// ErrNoGroups is returned when an Offsets value has no groups.
	ErrNoGroups = errors.New("ragged: no groups")
	// ErrLengthMismatch is returned when a flat buffer does not match the
	// total row count of its Offsets.
	ErrLengthMismatch = errors.New("ragged: length mismatch")
)

// Offsets holds the cumulative end index of every group. Group i spans rows
// [ends[i-1], ends[i]) of the flat buffer, with ends[-1] taken as 0.
// The zero value has no groups.
type Offsets struct {
	ends []int
}

// FromCounts builds Offsets from per-group row counts. Every count must be
// positive.
func FromCounts(counts []int) (Offsets, error) {
	if len(counts) == 0 {
		return Offsets{}, ErrNoGroups
	}
	ends := make([]int, len(counts))
	total := 0
	for i, c := range counts {
		if c <= 0 {
			return Offsets{}, fmt.Errorf("group %d has %d rows: %w", i, c, ErrEmptyGroup)
		}
		total += c
		ends[i] = total
	}
	return Offsets{ends: ends}, nil
}

// FromEnds builds Offsets from cumulative end indices (the backbone's
// "offset" field). Ends must be strictly increasing and start above zero.
func FromEnds(ends []int) (Offsets, error) {
	if len(ends) == 0 {
		return Offsets{}, ErrNoGroups
	}
	prev := 0
	for i, e := range ends {
		if e <= prev {
			return Offsets{}, fmt.Errorf("offset %d (%d) not above %d: %w", i, e, prev, ErrEmptyGroup)
		}
		prev = e
	}
	return Offsets{ends: append([]int(nil), ends...)}, nil
}

// MustFromCounts is FromCounts for fixtures with known-good counts.
func MustFromCounts(counts ...int) Offsets {
	o, err := FromCounts(counts)
	if err != nil {
		panic(err)
	}
	return o
}

// Len returns the number of groups.
func (o Offsets) Len() int { return len(o.ends) }

// Total returns the number of rows across all groups.
func (o Offsets) Total() int {
	if len(o.ends) == 0 {
		return 0
	}
	return o.ends[len(o.ends)-1]
}

// Span returns the half-open row range of group i.
func (o Offsets) Span(i int) (start, end int) {
	if i > 0 {
		start = o.ends[i-1]
	}
	return start, o.ends[i]
}

// Count returns the number of rows in group i.
func (o Offsets) Count(i int) int {
	s, e := o.Span(i)
	return e - s
}

// Counts returns per-group row counts.
func (o Offsets) Counts() []int {
	out := make([]int, len(o.ends))
	for i := range o.ends {
		out[i] = o.Count(i)
	}
	return out
}

// Ends returns a copy of the cumulative end indices.
func (o Offsets) Ends() []int {
	return append([]int(nil), o.ends...)
}

// SampleIndex expands the offsets into one group id per row.
func (o Offsets) SampleIndex() []int {
	idx := make([]int, o.Total())
	for g := range o.ends {
		s, e := o.Span(g)
		for r := s; r < e; r++ {
			idx[r] = g
		}
	}
	return idx
}

// Check verifies that a flat buffer with the given number of rows matches
// these offsets.
func (o Offsets) Check(rows int) error {
	if len(o.ends) == 0 {
		return ErrNoGroups
	}
	if rows != o.Total() {
		return fmt.Errorf("%d rows for offsets totalling %d: %w", rows, o.Total(), ErrLengthMismatch)
	}
	return nil
}

// Grow returns offsets where every group has extra additional rows.
func (o Offsets) Grow(extra int) Offsets {
	counts := o.Counts()
	for i := range counts {
		counts[i] += extra
	}
	ends := make([]int, len(counts))
	total := 0
	for i, c := range counts {
		total += c
		ends[i] = total
	}
	return Offsets{ends: ends}
}

// Equal reports whether two offsets describe the same partition.
func (o Offsets) Equal(p Offsets) bool {
	if len(o.ends) != len(p.ends) {
		return false
	}
	for i := range o.ends {
		if o.ends[i] != p.ends[i] {
			return false
		}
	}
	return true
}
