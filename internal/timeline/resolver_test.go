package timeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
)

type stubBranches struct {
	byID map[uuid.UUID]domain.Branch
}

func (s *stubBranches) GetByID(_ context.Context, id uuid.UUID) (domain.Branch, error) {
	branch, ok := s.byID[id]
	if !ok {
		return domain.Branch{}, fmt.Errorf("branch %s: %w", id, domain.ErrNotFound)
	}
	return branch, nil
}

type stubVersions struct {
	rows []domain.EntityVersion
}

func (s *stubVersions) GetAt(_ context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error) {
	var best *domain.EntityVersion
	for idx := range s.rows {
		row := s.rows[idx]
		if row.Ref() != ref || row.BranchID != branchID || !row.Covers(at) {
			continue
		}
		if best == nil || row.Version > best.Version {
			best = &s.rows[idx]
		}
	}
	if best == nil {
		return domain.EntityVersion{}, fmt.Errorf("no version: %w", domain.ErrNotFound)
	}
	return *best, nil
}

func worldTime(value int64) *domain.WorldTime {
	converted := domain.WorldTime(value)
	return &converted
}

func branchFixture() (*stubBranches, domain.Branch, domain.Branch) {
	root := domain.Branch{ID: uuid.New(), Name: "main"}
	forkAt := domain.WorldTime(150)
	child := domain.Branch{
		ID:             uuid.New(),
		Name:           "what-if-siege",
		ParentBranchID: &root.ID,
		ForkWorldTime:  &forkAt,
	}
	branches := &stubBranches{byID: map[uuid.UUID]domain.Branch{
		root.ID:  root,
		child.ID: child,
	}}
	return branches, root, child
}

func TestResolveTemporalContainment(t *testing.T) {
	branches, root, _ := branchFixture()
	ref := domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()}
	versions := &stubVersions{rows: []domain.EntityVersion{
		{
			EntityType: ref.EntityType, EntityID: ref.EntityID, BranchID: root.ID,
			Version: 1, ValidFrom: 100, ValidTo: worldTime(200),
			Payload: domain.Payload{"population": float64(1000)},
		},
	}}
	resolver := NewResolver(branches, versions)

	for _, at := range []domain.WorldTime{100, 150, 199} {
		version, err := resolver.Resolve(context.Background(), ref, root.ID, at)
		if err != nil {
			t.Fatalf("expected version at %d, got error: %v", at, err)
		}
		if version.Payload["population"] != float64(1000) {
			t.Fatalf("unexpected payload at %d: %+v", at, version.Payload)
		}
	}

	for _, at := range []domain.WorldTime{99, 200, 500} {
		if _, err := resolver.Resolve(context.Background(), ref, root.ID, at); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound at %d, got %v", at, err)
		}
	}
}

func TestResolveFallsBackToParent(t *testing.T) {
	branches, root, child := branchFixture()
	ref := domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()}
	versions := &stubVersions{rows: []domain.EntityVersion{
		{
			EntityType: ref.EntityType, EntityID: ref.EntityID, BranchID: root.ID,
			Version: 1, ValidFrom: 100,
			Payload: domain.Payload{"name": "Port Ashen"},
		},
	}}
	resolver := NewResolver(branches, versions)

	// The child has no local versions at all, so every instant falls back.
	version, err := resolver.Resolve(context.Background(), ref, child.ID, 120)
	if err != nil {
		t.Fatalf("expected inherited version, got error: %v", err)
	}
	if version.BranchID != root.ID {
		t.Fatalf("expected version from parent branch, got %s", version.BranchID)
	}

	// Even past the fork point the parent answers until the child writes.
	if _, err := resolver.Resolve(context.Background(), ref, child.ID, 400); err != nil {
		t.Fatalf("expected fallback after fork point, got error: %v", err)
	}
}

func TestResolvePrefersLocalVersion(t *testing.T) {
	branches, root, child := branchFixture()
	ref := domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()}
	versions := &stubVersions{rows: []domain.EntityVersion{
		{
			EntityType: ref.EntityType, EntityID: ref.EntityID, BranchID: root.ID,
			Version: 1, ValidFrom: 100,
			Payload: domain.Payload{"population": float64(1000)},
		},
		{
			EntityType: ref.EntityType, EntityID: ref.EntityID, BranchID: child.ID,
			Version: 1, ValidFrom: 160,
			Payload: domain.Payload{"population": float64(400)},
		},
	}}
	resolver := NewResolver(branches, versions)

	version, err := resolver.Resolve(context.Background(), ref, child.ID, 170)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version.BranchID != child.ID || version.Payload["population"] != float64(400) {
		t.Fatalf("expected local child version, got %+v", version)
	}

	// Before the child's first local interval the parent still answers.
	inherited, err := resolver.Resolve(context.Background(), ref, child.ID, 120)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inherited.BranchID != root.ID {
		t.Fatalf("expected inherited version before local edit, got %+v", inherited)
	}
}

func TestResolveDeletionMarkerIsNotNotFound(t *testing.T) {
	branches, root, _ := branchFixture()
	ref := domain.EntityRef{EntityType: "structure", EntityID: uuid.New()}
	versions := &stubVersions{rows: []domain.EntityVersion{
		{
			EntityType: ref.EntityType, EntityID: ref.EntityID, BranchID: root.ID,
			Version: 2, ValidFrom: 200, Payload: nil,
		},
	}}
	resolver := NewResolver(branches, versions)

	version, err := resolver.Resolve(context.Background(), ref, root.ID, 250)
	if err != nil {
		t.Fatalf("deletion marker must resolve, got error: %v", err)
	}
	if !version.Deleted() {
		t.Fatalf("expected deletion marker, got %+v", version)
	}

	payload, err := resolver.ResolvePayload(context.Background(), ref, root.ID, 250)
	if err != nil || payload != nil {
		t.Fatalf("expected nil payload without error, got %+v, %v", payload, err)
	}
}

func TestResolveCycleGuard(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	branches := &stubBranches{byID: map[uuid.UUID]domain.Branch{
		a: {ID: a, Name: "a", ParentBranchID: &b},
		b: {ID: b, Name: "b", ParentBranchID: &a},
	}}
	resolver := NewResolver(branches, &stubVersions{})

	ref := domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()}
	if _, err := resolver.Resolve(context.Background(), ref, a, 100); err == nil {
		t.Fatalf("expected cycle error")
	}
	if _, err := resolver.Ancestry(context.Background(), a); err == nil {
		t.Fatalf("expected ancestry cycle error")
	}
}

func TestCommonAncestorSiblings(t *testing.T) {
	root := domain.Branch{ID: uuid.New(), Name: "main"}
	forkA := domain.WorldTime(100)
	forkB := domain.WorldTime(150)
	left := domain.Branch{ID: uuid.New(), Name: "left", ParentBranchID: &root.ID, ForkWorldTime: &forkA}
	right := domain.Branch{ID: uuid.New(), Name: "right", ParentBranchID: &root.ID, ForkWorldTime: &forkB}
	branches := &stubBranches{byID: map[uuid.UUID]domain.Branch{
		root.ID: root, left.ID: left, right.ID: right,
	}}
	resolver := NewResolver(branches, &stubVersions{})

	ancestry, err := resolver.CommonAncestor(context.Background(), left.ID, right.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ancestry.Ancestor.ID != root.ID {
		t.Fatalf("expected root as common ancestor, got %s", ancestry.Ancestor.ID)
	}
	if len(ancestry.SourceBranchIDs) != 1 || ancestry.SourceBranchIDs[0] != left.ID {
		t.Fatalf("unexpected source branch ids: %+v", ancestry.SourceBranchIDs)
	}
	if len(ancestry.TargetBranchIDs) != 1 || ancestry.TargetBranchIDs[0] != right.ID {
		t.Fatalf("unexpected target branch ids: %+v", ancestry.TargetBranchIDs)
	}
	if !ancestry.HasFork || ancestry.BaseWorldTime != 100 {
		t.Fatalf("expected earliest fork 100, got %+v", ancestry)
	}
}

func TestCommonAncestorChildIntoParent(t *testing.T) {
	branches, root, child := branchFixture()
	resolver := NewResolver(branches, &stubVersions{})

	ancestry, err := resolver.CommonAncestor(context.Background(), child.ID, root.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ancestry.Ancestor.ID != root.ID {
		t.Fatalf("expected parent as ancestor, got %s", ancestry.Ancestor.ID)
	}
	if len(ancestry.TargetBranchIDs) != 0 {
		t.Fatalf("target is the ancestor, expected no branches below it: %+v", ancestry.TargetBranchIDs)
	}
	if !ancestry.HasFork || ancestry.BaseWorldTime != 150 {
		t.Fatalf("expected fork time 150, got %+v", ancestry)
	}
}

func TestCommonAncestorUnknownBranch(t *testing.T) {
	branches, root, _ := branchFixture()
	resolver := NewResolver(branches, &stubVersions{})

	if _, err := resolver.CommonAncestor(context.Background(), root.ID, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown branch, got %v", err)
	}
}
