package versionloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
)

type recordingReader struct {
	mu       sync.Mutex
	calls    int
	versions map[domain.EntityRef]domain.EntityVersion
}

func (r *recordingReader) GetManyAt(_ context.Context, refs []domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (map[domain.EntityRef]domain.EntityVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	found := map[domain.EntityRef]domain.EntityVersion{}
	for _, ref := range refs {
		if version, ok := r.versions[ref]; ok {
			found[ref] = version
		}
	}
	return found, nil
}

func TestLoaderBatchesConcurrentLookups(t *testing.T) {
	branchID := uuid.New()
	refs := make([]domain.EntityRef, 8)
	versions := map[domain.EntityRef]domain.EntityVersion{}
	for i := range refs {
		refs[i] = domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()}
		versions[refs[i]] = domain.EntityVersion{
			EntityType: refs[i].EntityType,
			EntityID:   refs[i].EntityID,
			BranchID:   branchID,
			Version:    1,
			ValidFrom:  100,
			Payload:    domain.Payload{"idx": float64(i)},
		}
	}

	reader := &recordingReader{versions: versions}
	loader := New(reader)

	var wg sync.WaitGroup
	errs := make([]error, len(refs))
	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, ref domain.EntityRef) {
			defer wg.Done()
			version, err := loader.GetAt(context.Background(), ref, branchID, 200)
			if err != nil {
				errs[idx] = err
				return
			}
			if version.EntityID != ref.EntityID {
				errs[idx] = errors.New("wrong version returned for key")
			}
		}(i, ref)
	}
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			t.Fatalf("lookup %d failed: %v", idx, err)
		}
	}

	reader.mu.Lock()
	calls := reader.calls
	reader.mu.Unlock()
	if calls >= len(refs) {
		t.Fatalf("expected batched reads, got %d calls for %d keys", calls, len(refs))
	}
}

func TestLoaderMissingVersionIsNotFound(t *testing.T) {
	loader := New(&recordingReader{versions: map[domain.EntityRef]domain.EntityVersion{}})
	ref := domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()}

	_, err := loader.GetAt(context.Background(), ref, uuid.New(), 100)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	ref := domain.EntityRef{EntityType: "trade|route", EntityID: uuid.New()}
	branchID := uuid.New()

	parsed, err := parseKey(encodeKey(ref, branchID, 42))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.ref != ref || parsed.branchID != branchID || parsed.at != 42 {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
}
