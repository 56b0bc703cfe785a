package nuclos

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/saierd/go-nuclos/pkg/rest"
)

// allPageSize is the page size used by ListAll and SearchAll when the caller
// does not choose one.
const allPageSize = 100

// Query bounds and orders a list or search request.
type Query struct {
	// Offset is the number of instances to skip.
	Offset int
	// Limit is the maximum number of instances one page request returns. Zero
	// leaves the page size to the server.
	Limit int
	// Sort orders the result by an attribute, given by display name or by
	// boAttrId.
	Sort string
	// Where filters the result with a server-side query string.
	Where string

	search string
}

type listPage struct {
	Bos []struct {
		BoID int64 `json:"boId"`
	} `json:"bos"`
}

func (bo *BusinessObject) page(ctx context.Context, q Query) ([]*Record, error) {
	params := url.Values{}

	if q.search != "" {
		params.Set("search", q.search)
	}

	if q.Limit > 0 {
		params.Set("chunksize", strconv.Itoa(q.Limit))
	}

	if q.Offset > 0 || q.Limit > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	if q.Sort != "" {
		orderBy := q.Sort

		// Sorting accepts an attribute name; anything that does not resolve
		// is passed through as a raw boAttrId.
		meta, err := bo.Meta(ctx)
		if err != nil {
			return nil, err
		}

		if attr, err := meta.AttributeByName(q.Sort); err == nil {
			orderBy = attr.BoAttrID
		}

		params.Set("orderBy", orderBy)
	}

	if q.Where != "" {
		params.Set("where", q.Where)
	}

	var page listPage
	if err := bo.client.rest.Get(ctx, rest.BoInstanceListRoute(bo.boMetaID), params, &page); err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(page.Bos))
	for _, entry := range page.Bos {
		records = append(records, newRecord(bo, entry.BoID))
	}

	return records, nil
}

// List returns one bounded page of instances in server order, or ordered by
// q.Sort if given.
func (bo *BusinessObject) List(ctx context.Context, q Query) ([]*Record, error) {
	return bo.page(ctx, q)
}

// ListAll repeats the page request with increasing offset until a short page
// arrives and concatenates the pages. When the total count is an exact
// multiple of the page size this costs one final empty page request; that
// answer terminates the loop normally.
func (bo *BusinessObject) ListAll(ctx context.Context, q Query) ([]*Record, error) {
	if q.Limit <= 0 {
		q.Limit = allPageSize
	}

	var result []*Record

	for {
		page, err := bo.page(ctx, q)
		if err != nil {
			return nil, err
		}

		result = append(result, page...)

		if len(page) < q.Limit {
			return result, nil
		}

		q.Offset += q.Limit
	}
}

// GetOne returns the first matching instance.
func (bo *BusinessObject) GetOne(ctx context.Context, q Query) (*Record, error) {
	page, err := bo.page(ctx, q)
	if err != nil {
		return nil, err
	}

	if len(page) == 0 {
		return nil, fmt.Errorf("no matching instance: %w", ErrNotFound)
	}

	return page[0], nil
}

// Search returns one bounded page of instances matching a full-text term.
func (bo *BusinessObject) Search(ctx context.Context, text string, q Query) ([]*Record, error) {
	q.search = text

	return bo.List(ctx, q)
}

// SearchAll returns all instances matching a full-text term, see ListAll.
func (bo *BusinessObject) SearchAll(ctx context.Context, text string, q Query) ([]*Record, error) {
	q.search = text

	return bo.ListAll(ctx, q)
}

// SearchOne returns the first instance matching a full-text term.
func (bo *BusinessObject) SearchOne(ctx context.Context, text string, q Query) (*Record, error) {
	q.search = text

	return bo.GetOne(ctx, q)
}
