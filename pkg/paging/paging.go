// Package paging describes the page requested from a search or history query
// and the page that was actually returned.
package paging

import (
	"errors"
	"fmt"
	"math"
)

const (
	// SizeAll is the page size of All.
	SizeAll = math.MaxInt32
	// DefaultSize is used when a request leaves PageSize at zero and no default was configured.
	DefaultSize = 20
)

var ErrInvalidRequest = errors.New("invalid paging request")

// Request selects a window of a result set. The zero value selects the first
// page of the default size.
type Request struct {
	FirstItem int  `json:"first_item"`
	PageSize  int  `json:"page_size"`
	CountOnly bool `json:"count_only,omitempty"`
}

var (
	// All returns every item.
	All = Request{PageSize: SizeAll}
	// None returns no items; only the total is counted.
	None = Request{CountOnly: true}
)

func Of(firstItem, pageSize int) Request {
	return Request{FirstItem: firstItem, PageSize: pageSize}
}

// OfPage builds a request for the 1-based page number.
func OfPage(page, pageSize int) Request {
	if page < 1 {
		page = 1
	}
	return Request{FirstItem: (page - 1) * pageSize, PageSize: pageSize}
}

// Normalize fills the default size and caps the size at maxSize. All is never capped.
func (r Request) Normalize(defaultSize, maxSize int) (Request, error) {
	if r.FirstItem < 0 {
		return r, fmt.Errorf("%w: first item %d is negative", ErrInvalidRequest, r.FirstItem)
	}
	if r.PageSize < 0 {
		return r, fmt.Errorf("%w: page size %d is negative", ErrInvalidRequest, r.PageSize)
	}
	if r.CountOnly {
		return Request{FirstItem: r.FirstItem, CountOnly: true}, nil
	}
	if r.PageSize == 0 {
		r.PageSize = defaultSize
		if r.PageSize <= 0 {
			r.PageSize = DefaultSize
		}
	}
	if maxSize > 0 && r.PageSize > maxSize && r.PageSize != SizeAll {
		r.PageSize = maxSize
	}
	return r, nil
}

// Limit is the number of rows a store should fetch for this request.
func (r Request) Limit() int {
	if r.CountOnly {
		return 0
	}
	return r.PageSize
}

// Window returns the half-open slice bounds of this page within total items.
func (r Request) Window(total int) (lo, hi int) {
	lo = min(r.FirstItem, total)
	hi = lo
	if !r.CountOnly {
		hi = min(lo+r.PageSize, total)
		if r.PageSize >= SizeAll-lo {
			hi = total
		}
	}
	return lo, hi
}

// Result builds the paging metadata returned alongside a page.
func (r Request) Result(total int) Paging {
	return Paging{FirstItem: r.FirstItem, PageSize: r.Limit(), TotalItems: total}
}

// Paging is the metadata of a returned page.
type Paging struct {
	FirstItem  int `json:"first_item"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
}

func (p Paging) LastItem() int {
	return min(p.FirstItem+p.PageSize, p.TotalItems)
}

func (p Paging) HasMore() bool {
	return p.LastItem() < p.TotalItems
}
