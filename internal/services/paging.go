package services

import "math"

// Page is a 1-based page request.
type Page struct {
	Page    int
	PerPage int
}

// Normalize applies the default page size and clamps it to max. Page is
// capped so that Offset plus one page still fits in an int.
func (p Page) Normalize(def, max int) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = def
	}
	if p.PerPage > max {
		p.PerPage = max
	}
	if limit := math.MaxInt/p.PerPage - 1; p.Page > limit {
		p.Page = limit
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pages returns how many pages total items fill.
func (p Page) Pages(total int64) int {
	if p.PerPage < 1 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}
