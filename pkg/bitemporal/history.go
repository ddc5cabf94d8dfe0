package bitemporal

import (
	"context"
	"iter"

	"github.com/iota-uz/portfolio-master/pkg/paging"
)

// HistoryPage is one page of an object's rows, newest version first.
type HistoryPage[P any] struct {
	Rows   []Row[P]
	Paging paging.Paging
}

// History returns one page of rows of objectID. An object with no rows at all is
// reported as not found; an object whose rows fall outside q yields an empty page.
func (e *Engine[P]) History(ctx context.Context, objectID int64, q HistoryQuery) (HistoryPage[P], error) {
	if err := e.checkHistory(q); err != nil {
		return HistoryPage[P]{}, err
	}
	rows, total, err := e.store.History(ctx, objectID, q)
	if err != nil {
		return HistoryPage[P]{}, err
	}
	if total == 0 {
		_, all, err := e.store.History(ctx, objectID, HistoryQuery{Paging: paging.None})
		if err != nil {
			return HistoryPage[P]{}, err
		}
		if all == 0 {
			return HistoryPage[P]{}, NotFound(e.code("NOT_FOUND"), "%s %d not found", e.entity, objectID)
		}
	}
	return HistoryPage[P]{Rows: rows, Paging: q.Paging.Result(total)}, nil
}

// Versions walks the rows matching q page by page, newest first. Iteration stops
// at the first error, which is yielded with a zero row. Each page is read when the
// previous one is exhausted, so the walk must run inside one read transaction to
// be stable.
func (e *Engine[P]) Versions(ctx context.Context, objectID int64, q HistoryQuery, pageSize int) iter.Seq2[Row[P], error] {
	if pageSize <= 0 {
		pageSize = paging.DefaultSize
	}
	return func(yield func(Row[P], error) bool) {
		req := paging.Of(q.Paging.FirstItem, pageSize)
		for {
			q.Paging = req
			page, err := e.History(ctx, objectID, q)
			if err != nil {
				yield(Row[P]{}, err)
				return
			}
			for _, row := range page.Rows {
				if !yield(row, nil) {
					return
				}
			}
			if len(page.Rows) < pageSize || !page.Paging.HasMore() {
				return
			}
			req.FirstItem += len(page.Rows)
		}
	}
}

func (e *Engine[P]) checkHistory(q HistoryQuery) error {
	if !q.VersionsFrom.IsZero() && !q.VersionsTo.IsZero() && q.VersionsTo.Before(q.VersionsFrom) {
		return Validation(e.code("INVALID_QUERY"), "%s history: versions range ends before it starts", e.entity)
	}
	if !q.CorrectionsFrom.IsZero() && !q.CorrectionsTo.IsZero() && q.CorrectionsTo.Before(q.CorrectionsFrom) {
		return Validation(e.code("INVALID_QUERY"), "%s history: corrections range ends before it starts", e.entity)
	}
	if q.Paging.FirstItem < 0 || q.Paging.PageSize < 0 {
		return Validation(e.code("INVALID_QUERY"), "%s history: negative paging", e.entity)
	}
	return nil
}
