package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/mozilla-services/syncstorage-engine/storage/backend"
)

// GetBSOsParams is the input shared by GetBSOs and GetBSOIDs.
type GetBSOsParams struct {
	Collection string
	IDs        []string
	Newer      time.Time
	Older      time.Time
	Sort       Sort
	Limit      int
	Offset     string // opaque, as emitted in a prior Next
}

// Page is a page of results plus the opaque continuation token for
// the next page. Next is empty when there is no further page.
type Page struct {
	Items []BSO
	Next  string
}

// parseOffset decodes the engine's own opaque offset tokens. Any
// unparseable token is treated as offset 0 rather than rejected,
// matching spec.md §6's "the engine may treat unknown tokens as
// offset 0" option — chosen over rejecting so that a client replaying
// a stale or mangled token degrades to "start over" instead of a hard
// failure.
func parseOffset(token string) int {
	if token == "" {
		return 0
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// GetBSOs implements spec.md §4.5's get_bsos: sort, paginate, and
// filter the live BSO set. An unknown collection name returns an
// empty page rather than ErrCollectionNotFound, for compatibility
// with list endpoints (spec.md §4.5 "Empty collection behavior").
func (s *Session) GetBSOs(ctx context.Context, p GetBSOsParams) (Page, error) {
	coll, err := s.lockForRead(ctx, p.Collection)
	if err != nil {
		return Page{}, err
	}
	if coll == SentinelCollectionID {
		return Page{}, nil
	}

	limit := s.clampLimit(p.Limit)
	if limit == 0 {
		return Page{Next: "0"}, nil
	}
	offset := parseOffset(p.Offset)

	rows, err := s.tx.RangeScanBSOs(ctx, backend.BSOQuery{
		User:       s.user,
		Collection: coll,
		Now:        s.ts.Time(),
		IDs:        p.IDs,
		Newer:      p.Newer,
		Older:      p.Older,
		Sort:       p.Sort,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return Page{}, ErrInternal.Wrap(err)
	}

	page := Page{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.Next = strconv.Itoa(offset + limit)
	}
	s.db.metrics.Reads.WithLabelValues("get_bsos").Inc()
	return page, nil
}

// IDPage is GetBSOIDs' result: ids only, same pagination contract as
// Page.
type IDPage struct {
	IDs  []string
	Next string
}

// GetBSOIDs implements spec.md §4.5's get_bso_ids: identical filtering
// and pagination to GetBSOs, projected down to ids.
func (s *Session) GetBSOIDs(ctx context.Context, p GetBSOsParams) (IDPage, error) {
	page, err := s.GetBSOs(ctx, p)
	if err != nil {
		return IDPage{}, err
	}
	out := IDPage{Next: page.Next}
	for _, b := range page.Items {
		out.IDs = append(out.IDs, b.ID)
	}
	return out, nil
}
