package view

import (
	"time"

	"realtycrm/internal/crm"
	"realtycrm/internal/crm/filter"
)

// ListState is everything a list page needs to derive what it shows. Every
// filter or sort change sends the list back to page 1.
type ListState struct {
	Filters  filter.State `json:"filters"`
	Sort     SortState    `json:"sort"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// NewListState starts from the schema defaults on page 1
func NewListState(schema *filter.Schema, pageSize int) ListState {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return ListState{Filters: filter.Clear(schema), Sort: Unsorted, Page: 1, PageSize: pageSize}
}

func (l ListState) SetFilter(key string, v filter.Value) ListState {
	l.Filters = filter.SetFilter(l.Filters, key, v)
	l.Page = 1
	return l
}

func (l ListState) ClearFilter(key string) ListState {
	l.Filters = l.Filters.Delete(key)
	l.Page = 1
	return l
}

func (l ListState) ClearFilters(schema *filter.Schema) ListState {
	l.Filters = filter.Clear(schema)
	l.Page = 1
	return l
}

// ToggleSort applies SortState.Toggle
func (l ListState) ToggleSort(key string) ListState {
	l.Sort = l.Sort.Toggle(key)
	l.Page = 1
	return l
}

func (l ListState) WithSort(s SortState) ListState {
	l.Sort = s
	l.Page = 1
	return l
}

// GoTo changes page only
func (l ListState) GoTo(page int) ListState {
	l.Page = page
	return l
}

// Run pushes records through filter, sort and pagination
func (l ListState) Run(records []crm.Record, schema *filter.Schema, now time.Time) Page[crm.Record] {
	filtered := filter.Apply(records, l.Filters, schema, now)
	sorted := Sort(filtered, l.Sort)
	return NewPage(sorted, l.Page, l.PageSize)
}
