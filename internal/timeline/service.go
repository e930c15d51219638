package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loreforge/loregql/internal/domain"
	"github.com/loreforge/loregql/internal/repository"

	"github.com/google/uuid"
)

// Service owns branch lifecycle and the entity mutation path: the
// close-old-version / open-new-version primitive that both ordinary edits and
// merge execution rely on.
type Service struct {
	branches repository.BranchRepository
	versions repository.VersionRepository
	resolver *Resolver
}

// NewService creates a timeline service.
func NewService(branches repository.BranchRepository, versions repository.VersionRepository) *Service {
	return &Service{
		branches: branches,
		versions: versions,
		resolver: NewResolver(branches, versions),
	}
}

// Resolver exposes the service's resolver for collaborators that only read.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// CreateRootBranch creates a branch with no parent.
func (s *Service) CreateRootBranch(ctx context.Context, name string) (domain.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Branch{}, fmt.Errorf("branch name is required")
	}
	return s.branches.Create(ctx, domain.NewRootBranch(name))
}

// ForkBranch creates a branch diverging from parent at the given world-time.
func (s *Service) ForkBranch(ctx context.Context, parentID uuid.UUID, name string, at domain.WorldTime) (domain.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Branch{}, fmt.Errorf("branch name is required")
	}
	if _, err := s.branches.GetByID(ctx, parentID); err != nil {
		return domain.Branch{}, err
	}
	return s.branches.Create(ctx, domain.NewForkedBranch(name, parentID, at))
}

// GetBranch returns one branch by id.
func (s *Service) GetBranch(ctx context.Context, id uuid.UUID) (domain.Branch, error) {
	return s.branches.GetByID(ctx, id)
}

// ListBranches returns all branches.
func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.branches.List(ctx)
}

// Ancestry returns the chain from a branch to the root.
func (s *Service) Ancestry(ctx context.Context, id uuid.UUID) ([]domain.Branch, error) {
	return s.resolver.Ancestry(ctx, id)
}

// SaveEntityInput describes one ordinary entity edit.
type SaveEntityInput struct {
	Ref       domain.EntityRef
	BranchID  uuid.UUID
	At        domain.WorldTime
	Payload   domain.Payload
	CreatedBy string
	Comment   *string
}

// SaveEntity appends a new version of an entity on a branch at a world-time.
func (s *Service) SaveEntity(ctx context.Context, input SaveEntityInput) (domain.EntityVersion, error) {
	if input.Payload == nil {
		return domain.EntityVersion{}, fmt.Errorf("payload is required; use DeleteEntity for deletions")
	}
	return s.appendVersion(ctx, input.Ref, input.BranchID, input.At, input.Payload, input.CreatedBy, input.Comment)
}

// DeleteEntity appends a deletion marker for an entity on a branch.
func (s *Service) DeleteEntity(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime, createdBy string, comment *string) (domain.EntityVersion, error) {
	return s.appendVersion(ctx, ref, branchID, at, nil, createdBy, comment)
}

func (s *Service) appendVersion(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime, payload domain.Payload, createdBy string, comment *string) (domain.EntityVersion, error) {
	if _, err := s.branches.GetByID(ctx, branchID); err != nil {
		return domain.EntityVersion{}, err
	}

	expected := int64(0)
	head, err := s.versions.Current(ctx, ref, branchID)
	if err == nil {
		expected = head.Version
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.EntityVersion{}, err
	}

	return s.versions.Append(ctx, domain.VersionWrite{
		Ref:             ref,
		BranchID:        branchID,
		ExpectedVersion: expected,
		ValidFrom:       at,
		Payload:         payload,
		CreatedBy:       createdBy,
		Comment:         comment,
	})
}

// ResolveEntity returns the version covering at on the branch lineage.
func (s *Service) ResolveEntity(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error) {
	return s.resolver.Resolve(ctx, ref, branchID, at)
}

// History lists every local version of an entity on one branch.
func (s *Service) History(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID) ([]domain.EntityVersion, error) {
	return s.versions.ListHistory(ctx, ref, branchID)
}
