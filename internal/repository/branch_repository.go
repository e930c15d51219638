package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// branchRepository implements BranchRepository on Postgres.
type branchRepository struct {
	pool *pgxpool.Pool
}

// NewBranchRepository creates a new branch repository.
func NewBranchRepository(pool *pgxpool.Pool) BranchRepository {
	return &branchRepository{pool: pool}
}

const branchColumns = "id, name, parent_branch_id, fork_world_time, created_at"

func (r *branchRepository) Create(ctx context.Context, branch domain.Branch) (domain.Branch, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO branches (id, name, parent_branch_id, fork_world_time, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+branchColumns,
		branch.ID, branch.Name, branch.ParentBranchID, forkTimeParam(branch.ForkWorldTime), branch.CreatedAt,
	)

	created, err := scanBranch(row)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("create branch: %w", err)
	}
	return created, nil
}

func (r *branchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Branch, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE id = $1`, id)

	branch, err := scanBranch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Branch{}, fmt.Errorf("branch %s: %w", id, domain.ErrNotFound)
		}
		return domain.Branch{}, fmt.Errorf("get branch: %w", err)
	}
	return branch, nil
}

func (r *branchRepository) List(ctx context.Context) ([]domain.Branch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+branchColumns+` FROM branches ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	branches := []domain.Branch{}
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}

	return branches, nil
}

func forkTimeParam(fork *domain.WorldTime) *int64 {
	if fork == nil {
		return nil
	}
	value := int64(*fork)
	return &value
}

func scanBranch(row pgx.Row) (domain.Branch, error) {
	var branch domain.Branch
	var forkTime *int64
	if err := row.Scan(&branch.ID, &branch.Name, &branch.ParentBranchID, &forkTime, &branch.CreatedAt); err != nil {
		return domain.Branch{}, err
	}
	if forkTime != nil {
		converted := domain.WorldTime(*forkTime)
		branch.ForkWorldTime = &converted
	}
	return branch, nil
}
