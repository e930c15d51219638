package repository

import (
	"context"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BranchRepository defines storage operations for branch metadata. Branches
// are created by forking and never deleted; archival is an external concern.
type BranchRepository interface {
	Create(ctx context.Context, branch domain.Branch) (domain.Branch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Branch, error)
	List(ctx context.Context) ([]domain.Branch, error)
}

// VersionRepository defines storage operations for the append-only version
// table. History is immutable: versions are never mutated or physically
// deleted, only appended and interval-closed.
type VersionRepository interface {
	// GetAt returns the version whose [validFrom, validTo) interval contains
	// at on the given branch, or ErrNotFound when no local version covers it.
	GetAt(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error)

	// GetManyAt is the batched form of GetAt for one branch and instant.
	// Refs with no covering version are simply absent from the result map.
	GetManyAt(ctx context.Context, refs []domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (map[domain.EntityRef]domain.EntityVersion, error)

	// Current returns the highest-numbered version of an entity on a branch.
	Current(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID) (domain.EntityVersion, error)

	// ListHistory returns every version of an entity on a branch in version
	// order.
	ListHistory(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID) ([]domain.EntityVersion, error)

	// ChangedEntities is the change index: the set of entities with any
	// version authored on any of the given branches.
	ChangedEntities(ctx context.Context, branchIDs []uuid.UUID) ([]domain.EntityRef, error)

	// Append closes the entity's open version at write.ValidFrom and inserts
	// the next one in a transaction of its own.
	Append(ctx context.Context, write domain.VersionWrite) (domain.EntityVersion, error)

	// AppendTx is Append inside a caller-owned transaction, so a merge can
	// commit many entities atomically. It fails with ErrVersionConflict when
	// write.ExpectedVersion no longer matches the stored head.
	AppendTx(ctx context.Context, tx pgx.Tx, write domain.VersionWrite) (domain.EntityVersion, error)
}

// TxRunner executes a function inside a database transaction, rolling back
// on error or panic.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}
