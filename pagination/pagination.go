// Package pagination normalizes page/page_size query parameters and builds
// the metadata returned alongside list responses.
package pagination

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query is bound from the page and page_size query parameters.
//
//nolint:tagliatelle
type Query struct {
	Page     int `query:"page"      validate:"omitempty,min=1"`
	PageSize int `query:"page_size" validate:"omitempty,min=1"`
}

type Window struct {
	Page     int
	PageSize int
	Offset   int
}

// Normalize fills in defaults and caps PageSize at MaxPageSize.
func (q Query) Normalize() Window {
	page := q.Page
	if page < 1 {
		page = DefaultPage
	}

	pageSize := q.PageSize

	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	return Window{Page: page, PageSize: pageSize, Offset: (page - 1) * pageSize}
}

//nolint:tagliatelle
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func NewMeta(window Window, totalCount int) Meta {
	totalPages := 0
	if window.PageSize > 0 {
		totalPages = (totalCount + window.PageSize - 1) / window.PageSize
	}

	return Meta{
		Page:       window.Page,
		PageSize:   window.PageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}
}
