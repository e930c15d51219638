// Package merge orchestrates three-way merges between branches: previewing
// conflicts and committing resolved merges atomically.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/loreforge/loregql/internal/domain"
	"github.com/loreforge/loregql/internal/repository"
	"github.com/loreforge/loregql/internal/timeline"
	"github.com/loreforge/loregql/internal/versionloader"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

const defaultDiffConcurrency = 8

// Service coordinates merge preview and execution.
type Service struct {
	branches        repository.BranchRepository
	versions        repository.VersionRepository
	runner          repository.TxRunner
	diffConcurrency int
}

// Option customizes a merge service.
type Option func(*Service)

// WithDiffConcurrency bounds how many entity diffs run in parallel during a
// preview.
func WithDiffConcurrency(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.diffConcurrency = limit
		}
	}
}

// NewService creates a merge service.
func NewService(branches repository.BranchRepository, versions repository.VersionRepository, runner repository.TxRunner, opts ...Option) *Service {
	service := &Service{
		branches:        branches,
		versions:        versions,
		runner:          runner,
		diffConcurrency: defaultDiffConcurrency,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// entityDiff pairs a preview diff with the context execution needs: the
// target branch payload for no-op detection.
type entityDiff struct {
	ref           domain.EntityRef
	result        domain.DiffResult
	targetPayload domain.Payload
}

// Preview computes the three-way diff of every entity changed on either
// branch since their common ancestor. It is read-only and repeatable.
func (s *Service) Preview(ctx context.Context, sourceID, targetID uuid.UUID, at domain.WorldTime) (domain.MergePreview, error) {
	preview, _, err := s.preview(ctx, sourceID, targetID, at)
	return preview, err
}

func (s *Service) preview(ctx context.Context, sourceID, targetID uuid.UUID, at domain.WorldTime) (domain.MergePreview, []entityDiff, error) {
	if sourceID == targetID {
		return domain.MergePreview{}, nil, fmt.Errorf("cannot merge branch %s into itself", sourceID)
	}

	// The loader batches the flood of per-entity snapshot lookups below.
	resolver := timeline.NewResolver(s.branches, versionloader.New(s.versions))

	ancestry, err := resolver.CommonAncestor(ctx, sourceID, targetID)
	if err != nil {
		return domain.MergePreview{}, nil, err
	}

	changedOn := append([]uuid.UUID{}, ancestry.SourceBranchIDs...)
	changedOn = append(changedOn, ancestry.TargetBranchIDs...)
	changed, err := s.versions.ChangedEntities(ctx, changedOn)
	if err != nil {
		return domain.MergePreview{}, nil, err
	}
	sort.Slice(changed, func(i, j int) bool {
		if changed[i].EntityType != changed[j].EntityType {
			return changed[i].EntityType < changed[j].EntityType
		}
		return changed[i].EntityID.String() < changed[j].EntityID.String()
	})

	// Base snapshots are taken on the ancestor at the earliest fork instant;
	// when neither side forked off the ancestor the query time stands in.
	baseAt := at
	if ancestry.HasFork {
		baseAt = ancestry.BaseWorldTime
	}

	diffs := make([]entityDiff, len(changed))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.diffConcurrency)
	for idx, ref := range changed {
		idx, ref := idx, ref
		group.Go(func() error {
			base, err := resolver.ResolvePayload(groupCtx, ref, ancestry.Ancestor.ID, baseAt)
			if err != nil {
				return err
			}
			source, err := resolver.ResolvePayload(groupCtx, ref, sourceID, at)
			if err != nil {
				return err
			}
			target, err := resolver.ResolvePayload(groupCtx, ref, targetID, at)
			if err != nil {
				return err
			}
			diffs[idx] = entityDiff{
				ref:           ref,
				result:        domain.Diff3(base, source, target),
				targetPayload: target,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return domain.MergePreview{}, nil, err
	}

	preview := domain.MergePreview{
		SourceBranchID:   sourceID,
		TargetBranchID:   targetID,
		CommonAncestorID: ancestry.Ancestor.ID,
		WorldTime:        at,
		Entities:         []domain.EntityMergePreview{},
	}
	for _, diff := range diffs {
		// An enumerated entity can still diff clean, e.g. when an edit was
		// reverted back to the base value on both sides. Those are kept in
		// diffs for execute's no-op handling but omitted from the preview,
		// which reports only entities the merge would actually touch.
		if len(diff.result.Conflicts) == 0 && len(diff.result.AutoResolved) == 0 {
			continue
		}
		preview.Entities = append(preview.Entities, domain.EntityMergePreview{
			EntityType:   diff.ref.EntityType,
			EntityID:     diff.ref.EntityID,
			Conflicts:    diff.result.Conflicts,
			AutoResolved: diff.result.AutoResolved,
		})
		preview.TotalConflicts += len(diff.result.Conflicts)
		preview.TotalAutoResolved += len(diff.result.AutoResolved)
	}
	preview.RequiresManualResolution = preview.TotalConflicts > 0

	return preview, diffs, nil
}

type resolutionKey struct {
	ref  domain.EntityRef
	path string
}

// Execute re-runs the preview for authority, validates the supplied
// resolutions against it, then commits one new version per changed entity on
// the target branch in a single all-or-nothing transaction.
func (s *Service) Execute(ctx context.Context, sourceID, targetID uuid.UUID, at domain.WorldTime, resolutions []domain.ConflictResolution, actor string) (domain.MergeResult, error) {
	_, diffs, err := s.preview(ctx, sourceID, targetID, at)
	if err != nil {
		return domain.MergeResult{}, err
	}

	supplied, validationErr := indexResolutions(resolutions, diffs)
	if validationErr != nil {
		return domain.MergeResult{}, validationErr
	}

	type pendingWrite struct {
		ref      domain.EntityRef
		payload  domain.Payload
		expected int64
	}
	pending := []pendingWrite{}

	for _, diff := range diffs {
		perEntity := map[string]any{}
		for _, conflict := range diff.result.Conflicts {
			perEntity[conflict.Path] = supplied[resolutionKey{ref: diff.ref, path: conflict.Path}]
		}

		final, err := diff.result.ResolveWith(perEntity)
		if err != nil {
			return domain.MergeResult{}, &domain.MergeValidationError{Problems: []string{err.Error()}}
		}

		// Unchanged against the target branch means nothing to commit.
		if domain.PayloadsEqual(final, diff.targetPayload) {
			continue
		}

		expected := int64(0)
		head, err := s.versions.Current(ctx, diff.ref, targetID)
		if err == nil {
			expected = head.Version
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.MergeResult{}, err
		}

		pending = append(pending, pendingWrite{ref: diff.ref, payload: final, expected: expected})
	}

	if len(pending) == 0 {
		return domain.MergeResult{Success: true, MergedEntityIDs: []uuid.UUID{}}, nil
	}

	sourceBranch, err := s.branches.GetByID(ctx, sourceID)
	if err != nil {
		return domain.MergeResult{}, err
	}
	comment := fmt.Sprintf("merge from branch %q", sourceBranch.Name)

	mergedIDs := make([]uuid.UUID, 0, len(pending))
	txErr := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		for _, write := range pending {
			if _, err := s.versions.AppendTx(ctx, tx, domain.VersionWrite{
				Ref:             write.ref,
				BranchID:        targetID,
				ExpectedVersion: write.expected,
				ValidFrom:       at,
				Payload:         write.payload,
				CreatedBy:       actor,
				Comment:         &comment,
			}); err != nil {
				return err
			}
			mergedIDs = append(mergedIDs, write.ref.EntityID)
		}
		return nil
	})
	if txErr != nil {
		// Whole batch rolled back; nothing was created.
		return domain.MergeResult{Success: false, Error: txErr.Error()},
			errors.Join(domain.ErrMergeAborted, txErr)
	}

	return domain.MergeResult{
		Success:         true,
		VersionsCreated: len(pending),
		MergedEntityIDs: mergedIDs,
	}, nil
}

// indexResolutions checks that every reported conflict has exactly one
// resolution and that no resolution references a conflict that does not
// exist.
func indexResolutions(resolutions []domain.ConflictResolution, diffs []entityDiff) (map[resolutionKey]any, error) {
	problems := []string{}

	supplied := map[resolutionKey]any{}
	for _, resolution := range resolutions {
		key := resolutionKey{
			ref:  domain.EntityRef{EntityType: resolution.EntityType, EntityID: resolution.EntityID},
			path: resolution.Path,
		}
		if _, duplicate := supplied[key]; duplicate {
			problems = append(problems, fmt.Sprintf("duplicate resolution for %s/%s at %q",
				key.ref.EntityType, key.ref.EntityID, key.path))
			continue
		}
		supplied[key] = resolution.ResolvedValue
	}

	reported := map[resolutionKey]bool{}
	for _, diff := range diffs {
		for _, conflict := range diff.result.Conflicts {
			key := resolutionKey{ref: diff.ref, path: conflict.Path}
			reported[key] = true
			if _, ok := supplied[key]; !ok {
				problems = append(problems, fmt.Sprintf("conflict for %s/%s at %q has no resolution",
					diff.ref.EntityType, diff.ref.EntityID, conflict.Path))
			}
		}
	}

	for key := range supplied {
		if !reported[key] {
			problems = append(problems, fmt.Sprintf("resolution for %s/%s at %q matches no reported conflict",
				key.ref.EntityType, key.ref.EntityID, key.path))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &domain.MergeValidationError{Problems: problems}
	}
	return supplied, nil
}
