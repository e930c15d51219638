// Package versionloader batches concurrent point-in-time version lookups so
// a merge preview fanning out over many entities issues grouped reads
// instead of one query per entity.
package versionloader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// BatchReader is the grouped lookup the loader delegates to.
type BatchReader interface {
	GetManyAt(ctx context.Context, refs []domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (map[domain.EntityRef]domain.EntityVersion, error)
}

// Loader exposes GetAt with dataloader batching and per-instance caching. It
// satisfies timeline.VersionReader, so a resolver built on it transparently
// batches the first-branch lookups of an ancestry walk.
type Loader struct {
	loader *dataloader.Loader
}

// New creates a loader over the given reader.
func New(reader BatchReader) *Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		type group struct {
			refs    []domain.EntityRef
			indexes []int
		}
		groups := map[string]*group{}
		groupCoords := map[string]lookupKey{}

		for idx, key := range keys {
			parsed, err := parseKey(key.String())
			if err != nil {
				results[idx] = &dataloader.Result{Error: err}
				continue
			}
			groupID := fmt.Sprintf("%s|%d", parsed.branchID, parsed.at)
			g, ok := groups[groupID]
			if !ok {
				g = &group{}
				groups[groupID] = g
				groupCoords[groupID] = parsed
			}
			g.refs = append(g.refs, parsed.ref)
			g.indexes = append(g.indexes, idx)
		}

		for groupID, g := range groups {
			coords := groupCoords[groupID]
			found, err := reader.GetManyAt(ctx, g.refs, coords.branchID, coords.at)
			for position, idx := range g.indexes {
				if err != nil {
					results[idx] = &dataloader.Result{Error: err}
					continue
				}
				version, ok := found[g.refs[position]]
				if !ok {
					results[idx] = &dataloader.Result{
						Error: fmt.Errorf("version of %s/%s at %d: %w",
							g.refs[position].EntityType, g.refs[position].EntityID, coords.at, domain.ErrNotFound),
					}
					continue
				}
				results[idx] = &dataloader.Result{Data: version}
			}
		}

		return results
	}

	return &Loader{loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))}
}

// GetAt resolves one interval lookup through the batcher.
func (l *Loader) GetAt(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error) {
	thunk := l.loader.Load(ctx, dataloader.StringKey(encodeKey(ref, branchID, at)))
	data, err := thunk()
	if err != nil {
		return domain.EntityVersion{}, err
	}
	version, ok := data.(domain.EntityVersion)
	if !ok {
		return domain.EntityVersion{}, fmt.Errorf("unexpected loader result type %T", data)
	}
	return version, nil
}

type lookupKey struct {
	ref      domain.EntityRef
	branchID uuid.UUID
	at       domain.WorldTime
}

// encodeKey packs the lookup coordinates into a loader key. The entity type
// goes last so it may contain any character.
func encodeKey(ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) string {
	return fmt.Sprintf("%s|%d|%s|%s", branchID, at, ref.EntityID, ref.EntityType)
}

func parseKey(key string) (lookupKey, error) {
	parts := strings.SplitN(key, "|", 4)
	if len(parts) != 4 {
		return lookupKey{}, fmt.Errorf("malformed loader key %q", key)
	}

	branchID, err := uuid.Parse(parts[0])
	if err != nil {
		return lookupKey{}, fmt.Errorf("malformed branch id in loader key: %w", err)
	}
	at, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return lookupKey{}, fmt.Errorf("malformed world-time in loader key: %w", err)
	}
	entityID, err := uuid.Parse(parts[2])
	if err != nil {
		return lookupKey{}, fmt.Errorf("malformed entity id in loader key: %w", err)
	}

	return lookupKey{
		ref:      domain.EntityRef{EntityType: parts[3], EntityID: entityID},
		branchID: branchID,
		at:       domain.WorldTime(at),
	}, nil
}
