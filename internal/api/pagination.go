package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPage    = 1
	defaultPerPage = 10
)

// Pagination slices record sets into fixed-size pages. Page and PerPage
// are always at least 1.
type Pagination struct {
	Page    int
	PerPage int
}

// PaginationInfo is the pagination block of a record listing response.
type PaginationInfo struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
}

// NewPagination floors both values at 1.
func NewPagination(page, perPage int) Pagination {
	if page < 1 {
		page = defaultPage
	}
	if perPage < 1 {
		perPage = 1
	}

	return Pagination{Page: page, PerPage: perPage}
}

// ParsePagination reads page and per_page from the query string. Absent or
// non-numeric values fall back to the defaults, then both are floored at 1.
func ParsePagination(r *http.Request) Pagination {
	q := r.URL.Query()

	page := defaultPage
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		page = v
	}

	perPage := defaultPerPage
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil {
		perPage = v
	}

	return NewPagination(page, perPage)
}

// Bounds returns the half-open slice range [start, end) for a collection
// of total elements, clamped so it is always a valid slice expression.
func (p Pagination) Bounds(total int) (int, int) {
	start := (p.Page - 1) * p.PerPage
	if start > total {
		start = total
	}

	end := start + p.PerPage
	if end > total {
		end = total
	}

	return start, end
}

// Info reports the page math for a collection of total elements. Zero
// records means zero pages.
func (p Pagination) Info(total int) PaginationInfo {
	pages := total / p.PerPage
	if total%p.PerPage != 0 {
		pages++
	}

	return PaginationInfo{
		Page:         p.Page,
		PerPage:      p.PerPage,
		TotalRecords: total,
		TotalPages:   pages,
	}
}
