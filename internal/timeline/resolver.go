// Package timeline resolves entity state by branch and world-time and owns
// branch lifecycle plus the entity write path.
package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
)

// BranchReader is the branch lookup the resolver needs.
type BranchReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Branch, error)
}

// VersionReader is the interval lookup the resolver needs. Both the pgx
// repository and the batching version loader satisfy it.
type VersionReader interface {
	GetAt(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error)
}

// Resolver answers "what did this entity look like on this branch at this
// world-time". A branch transparently inherits history from its ancestors
// until it has written local versions of its own.
type Resolver struct {
	branches BranchReader
	versions VersionReader
}

// NewResolver creates a resolver over the given readers.
func NewResolver(branches BranchReader, versions VersionReader) *Resolver {
	return &Resolver{branches: branches, versions: versions}
}

// Resolve walks the branch ancestry until a version interval covers at. A
// deletion marker (nil payload) is a valid result, distinct from ErrNotFound
// which means the entity did not exist anywhere in the lineage at that time.
func (r *Resolver) Resolve(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error) {
	visited := map[uuid.UUID]bool{}
	current := branchID

	for {
		if visited[current] {
			return domain.EntityVersion{}, fmt.Errorf("branch ancestry contains a cycle at %s", current)
		}
		visited[current] = true

		version, err := r.versions.GetAt(ctx, ref, current, at)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.EntityVersion{}, err
		}

		branch, err := r.branches.GetByID(ctx, current)
		if err != nil {
			return domain.EntityVersion{}, err
		}
		if branch.ParentBranchID == nil {
			return domain.EntityVersion{}, fmt.Errorf("entity %s/%s on branch %s at %d: %w",
				ref.EntityType, ref.EntityID, branchID, at, domain.ErrNotFound)
		}
		current = *branch.ParentBranchID
	}
}

// ResolvePayload resolves to a bare payload: both "never existed" and
// "deleted at that instant" come back as nil, which is exactly the shape the
// three-way diff consumes.
func (r *Resolver) ResolvePayload(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.Payload, error) {
	version, err := r.Resolve(ctx, ref, branchID, at)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return version.Payload, nil
}

// Ancestry returns the branch chain from branchID up to the root, inclusive.
func (r *Resolver) Ancestry(ctx context.Context, branchID uuid.UUID) ([]domain.Branch, error) {
	visited := map[uuid.UUID]bool{}
	chain := []domain.Branch{}
	current := branchID

	for {
		if visited[current] {
			return nil, fmt.Errorf("branch ancestry contains a cycle at %s", current)
		}
		visited[current] = true

		branch, err := r.branches.GetByID(ctx, current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, branch)
		if branch.ParentBranchID == nil {
			return chain, nil
		}
		current = *branch.ParentBranchID
	}
}

// CommonAncestry describes where two branch lineages meet.
type CommonAncestry struct {
	Ancestor domain.Branch

	// SourceBranchIDs and TargetBranchIDs are the branches strictly below
	// the ancestor on each path; any version on them postdates the fork.
	SourceBranchIDs []uuid.UUID
	TargetBranchIDs []uuid.UUID

	// BaseWorldTime is the fork instant used for the merge base: the
	// earliest world-time at which either lineage diverged from the
	// ancestor. Only meaningful when HasFork is true (the two branches are
	// not the same timeline).
	BaseWorldTime domain.WorldTime
	HasFork       bool
}

// CommonAncestor finds the first shared branch of two lineages.
func (r *Resolver) CommonAncestor(ctx context.Context, sourceID, targetID uuid.UUID) (CommonAncestry, error) {
	sourceChain, err := r.Ancestry(ctx, sourceID)
	if err != nil {
		return CommonAncestry{}, err
	}
	targetChain, err := r.Ancestry(ctx, targetID)
	if err != nil {
		return CommonAncestry{}, err
	}

	targetIndex := make(map[uuid.UUID]int, len(targetChain))
	for idx, branch := range targetChain {
		targetIndex[branch.ID] = idx
	}

	for sourceIdx, branch := range sourceChain {
		targetIdx, shared := targetIndex[branch.ID]
		if !shared {
			continue
		}

		ancestry := CommonAncestry{Ancestor: branch}
		for _, below := range sourceChain[:sourceIdx] {
			ancestry.SourceBranchIDs = append(ancestry.SourceBranchIDs, below.ID)
		}
		for _, below := range targetChain[:targetIdx] {
			ancestry.TargetBranchIDs = append(ancestry.TargetBranchIDs, below.ID)
		}

		if sourceIdx > 0 {
			ancestry.noteFork(sourceChain[sourceIdx-1])
		}
		if targetIdx > 0 {
			ancestry.noteFork(targetChain[targetIdx-1])
		}
		return ancestry, nil
	}

	return CommonAncestry{}, fmt.Errorf("branches %s and %s share no ancestor: %w", sourceID, targetID, domain.ErrNotFound)
}

// noteFork records the fork time of a direct child of the ancestor, keeping
// the earliest divergence seen so far.
func (a *CommonAncestry) noteFork(child domain.Branch) {
	if child.ForkWorldTime == nil {
		return
	}
	if !a.HasFork || *child.ForkWorldTime < a.BaseWorldTime {
		a.BaseWorldTime = *child.ForkWorldTime
	}
	a.HasFork = true
}
