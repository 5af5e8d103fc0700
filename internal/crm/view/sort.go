// Package view derives the visible page of a record list: sorting,
// pagination and the list state that ties them to the active filters.
package view

import (
	"slices"
	"strings"
	"time"

	"realtycrm/internal/crm"
)

// Direction of a sort
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection defaults to ascending for anything but "desc"
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

// SortState is the active sort. An empty Key keeps store order.
type SortState struct {
	Key       string    `json:"key,omitempty"`
	Direction Direction `json:"direction"`
}

// Unsorted keeps records in the order the store returned them
var Unsorted = SortState{Direction: Asc}

// Toggle flips the direction when key is already active, otherwise sorts by
// key ascending.
func (s SortState) Toggle(key string) SortState {
	if key == s.Key && key != "" {
		if s.Direction == Desc {
			return SortState{Key: key, Direction: Asc}
		}
		return SortState{Key: key, Direction: Desc}
	}
	return SortState{Key: key, Direction: Asc}
}

// Compare orders a and b by the sort key. Numbers and times compare
// naturally, text ignores case. Records without the field go last in either
// direction.
func Compare(a, b crm.Record, s SortState) int {
	if s.Key == "" {
		return 0
	}
	av, aok := a.Field(s.Key)
	bv, bok := b.Field(s.Key)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	c := compareValues(av, bv)
	if s.Direction == Desc {
		return -c
	}
	return c
}

func compareValues(a, b any) int {
	if af, ok := crm.AsFloat(a); ok {
		if bf, ok := crm.AsFloat(b); ok {
			return cmpOrdered(af, bf)
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if at, ok := crm.AsTime(a); ok {
		if bt, ok := crm.AsTime(b); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(strings.ToLower(crm.AsString(a)), strings.ToLower(crm.AsString(b)))
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Sort returns a stably sorted copy of records
func Sort(records []crm.Record, s SortState) []crm.Record {
	out := slices.Clone(records)
	if out == nil {
		out = []crm.Record{}
	}
	if s.Key == "" {
		return out
	}
	slices.SortStableFunc(out, func(a, b crm.Record) int {
		return Compare(a, b, s)
	})
	return out
}
