package nuclos

import (
	"context"
	"sync"

	"github.com/saierd/go-nuclos/pkg/rest"
)

// BusinessObject is the handle for one business object type. Its metadata is
// fetched on first use and cached for the lifetime of the client.
type BusinessObject struct {
	client   *Client
	boMetaID string

	mu   sync.Mutex
	meta *BusinessObjectMeta
	deps map[string]*DependencyMeta
}

func (bo *BusinessObject) BoMetaID() string {
	return bo.boMetaID
}

// Meta returns the attribute metadata of this type.
func (bo *BusinessObject) Meta(ctx context.Context) (*BusinessObjectMeta, error) {
	bo.mu.Lock()
	defer bo.mu.Unlock()

	if bo.meta != nil {
		return bo.meta, nil
	}

	var data boMetaData
	if err := bo.client.rest.Get(ctx, rest.BoMetaRoute(bo.boMetaID), nil, &data); err != nil {
		return nil, err
	}

	bo.meta = newBusinessObjectMeta(bo.boMetaID, data)

	return bo.meta, nil
}

// dependencyMeta fetches the metadata of a sub-form relation. The answers are
// shared by all records of this type.
func (bo *BusinessObject) dependencyMeta(ctx context.Context, dependencyID string) (*DependencyMeta, error) {
	bo.mu.Lock()
	cached, ok := bo.deps[dependencyID]
	bo.mu.Unlock()

	if ok {
		return cached, nil
	}

	var meta DependencyMeta
	if err := bo.client.rest.Get(ctx, rest.DependencyMetaRoute(bo.boMetaID, dependencyID), nil, &meta); err != nil {
		return nil, err
	}

	meta.DependencyID = dependencyID

	bo.mu.Lock()
	bo.deps[dependencyID] = &meta
	bo.mu.Unlock()

	return &meta, nil
}

// Get loads the instance with the given id. It fails with ErrNotFound when
// the id does not exist.
func (bo *BusinessObject) Get(ctx context.Context, boID int64) (*Record, error) {
	record := newRecord(bo, boID)
	if _, err := record.loadedData(ctx); err != nil {
		return nil, err
	}

	return record, nil
}

// New creates a local, unsaved instance. It receives its id on the first
// Save.
func (bo *BusinessObject) New() *Record {
	return newLocalRecord(bo)
}
