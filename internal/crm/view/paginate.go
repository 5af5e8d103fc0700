package view

const (
	// DefaultPageSize matches the list pages of the web client
	DefaultPageSize = 10
	// MinTotalPages keeps "page 1 of 1" for an empty list
	MinTotalPages = 1
)

// Paginate returns page (1-indexed) of items. Out of range pages are empty.
// A non-positive pageSize falls back to DefaultPageSize.
func Paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	// compare page numbers before multiplying so huge pages can't overflow
	if page < 1 || page > pageCount(len(items), pageSize) {
		return []T{}
	}
	start := (page - 1) * pageSize
	end := start + min(pageSize, len(items)-start)
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

// TotalPages is ceil(count/pageSize), never below MinTotalPages
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return max(pageCount(count, pageSize), MinTotalPages)
}

func pageCount(count, pageSize int) int {
	pages := count / pageSize
	if count%pageSize != 0 {
		pages++
	}
	return pages
}

// Page is one slice of a list together with its paging metadata
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPage slices items and fills in the metadata
func NewPage[T any](items []T, page, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return Page[T]{
		Items:      Paginate(items, page, pageSize),
		Page:       page,
		PageSize:   pageSize,
		Total:      len(items),
		TotalPages: TotalPages(len(items), pageSize),
	}
}
