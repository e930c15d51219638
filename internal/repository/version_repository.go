package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loreforge/loregql/internal/domain"
	"github.com/loreforge/loregql/pkg/payloadcodec"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// versionRepository implements VersionRepository on Postgres. Payloads are
// stored as payloadcodec blobs in a nullable bytea column; a NULL payload is
// the deletion marker.
type versionRepository struct {
	pool *pgxpool.Pool
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(pool *pgxpool.Pool) VersionRepository {
	return &versionRepository{pool: pool}
}

const versionColumns = "id, entity_type, entity_id, branch_id, version, valid_from, valid_to, payload, created_by, created_at, comment"

func (r *versionRepository) GetAt(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (domain.EntityVersion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+versionColumns+`
		 FROM entity_versions
		 WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		   AND valid_from <= $4 AND (valid_to IS NULL OR valid_to > $4)
		 ORDER BY valid_from DESC, version DESC
		 LIMIT 1`,
		ref.EntityType, ref.EntityID, branchID, int64(at),
	)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntityVersion{}, fmt.Errorf("version of %s/%s at %d: %w", ref.EntityType, ref.EntityID, at, domain.ErrNotFound)
		}
		return domain.EntityVersion{}, fmt.Errorf("get version at: %w", err)
	}
	return version, nil
}

func (r *versionRepository) GetManyAt(ctx context.Context, refs []domain.EntityRef, branchID uuid.UUID, at domain.WorldTime) (map[domain.EntityRef]domain.EntityVersion, error) {
	if len(refs) == 0 {
		return map[domain.EntityRef]domain.EntityVersion{}, nil
	}

	entityTypes := make([]string, len(refs))
	entityIDs := make([]uuid.UUID, len(refs))
	for i, ref := range refs {
		entityTypes[i] = ref.EntityType
		entityIDs[i] = ref.EntityID
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (v.entity_type, v.entity_id) `+prefixedVersionColumns("v")+`
		 FROM entity_versions v
		 JOIN unnest($1::text[], $2::uuid[]) AS want(entity_type, entity_id)
		   ON v.entity_type = want.entity_type AND v.entity_id = want.entity_id
		 WHERE v.branch_id = $3
		   AND v.valid_from <= $4 AND (v.valid_to IS NULL OR v.valid_to > $4)
		 ORDER BY v.entity_type, v.entity_id, v.valid_from DESC, v.version DESC`,
		entityTypes, entityIDs, branchID, int64(at),
	)
	if err != nil {
		return nil, fmt.Errorf("get versions at: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.EntityRef]domain.EntityVersion, len(refs))
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		result[version.Ref()] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}

	return result, nil
}

func (r *versionRepository) Current(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID) (domain.EntityVersion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+versionColumns+`
		 FROM entity_versions
		 WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		 ORDER BY version DESC
		 LIMIT 1`,
		ref.EntityType, ref.EntityID, branchID,
	)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntityVersion{}, fmt.Errorf("current version of %s/%s: %w", ref.EntityType, ref.EntityID, domain.ErrNotFound)
		}
		return domain.EntityVersion{}, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) ListHistory(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID) ([]domain.EntityVersion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+versionColumns+`
		 FROM entity_versions
		 WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		 ORDER BY version`,
		ref.EntityType, ref.EntityID, branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	versions := []domain.EntityVersion{}
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return versions, nil
}

func (r *versionRepository) ChangedEntities(ctx context.Context, branchIDs []uuid.UUID) ([]domain.EntityRef, error) {
	if len(branchIDs) == 0 {
		return []domain.EntityRef{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT entity_type, entity_id
		 FROM entity_versions
		 WHERE branch_id = ANY($1::uuid[])
		 ORDER BY entity_type, entity_id`,
		branchIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list changed entities: %w", err)
	}
	defer rows.Close()

	refs := []domain.EntityRef{}
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return nil, fmt.Errorf("scan changed entity: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changed entities: %w", err)
	}

	return refs, nil
}

func (r *versionRepository) Append(ctx context.Context, write domain.VersionWrite) (domain.EntityVersion, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	version, err := r.AppendTx(ctx, tx, write)
	if err != nil {
		return domain.EntityVersion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.EntityVersion{}, fmt.Errorf("commit append: %w", err)
	}
	return version, nil
}

func (r *versionRepository) AppendTx(ctx context.Context, tx pgx.Tx, write domain.VersionWrite) (domain.EntityVersion, error) {
	if err := validateWrite(write); err != nil {
		return domain.EntityVersion{}, err
	}

	// Lock the entity's head so concurrent writers serialize here.
	var head int64
	var headValidFrom int64
	err := tx.QueryRow(ctx,
		`SELECT version, valid_from
		 FROM entity_versions
		 WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		 ORDER BY version DESC
		 LIMIT 1
		 FOR UPDATE`,
		write.Ref.EntityType, write.Ref.EntityID, write.BranchID,
	).Scan(&head, &headValidFrom)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityVersion{}, fmt.Errorf("lock version head: %w", err)
	}

	if head != write.ExpectedVersion {
		return domain.EntityVersion{}, fmt.Errorf("expected version %d of %s/%s on branch %s, head is %d: %w",
			write.ExpectedVersion, write.Ref.EntityType, write.Ref.EntityID, write.BranchID, head, domain.ErrVersionConflict)
	}

	if head > 0 {
		if headValidFrom > int64(write.ValidFrom) {
			return domain.EntityVersion{}, fmt.Errorf("validFrom %d precedes head interval start %d", write.ValidFrom, headValidFrom)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE entity_versions SET valid_to = $4
			 WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3 AND valid_to IS NULL`,
			write.Ref.EntityType, write.Ref.EntityID, write.BranchID, int64(write.ValidFrom),
		); err != nil {
			return domain.EntityVersion{}, fmt.Errorf("close open version: %w", err)
		}
	}

	blob, err := payloadcodec.Encode(write.Payload)
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("encode payload: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO entity_versions (id, entity_type, entity_id, branch_id, version, valid_from, valid_to, payload, created_by, created_at, comment)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, now(), $9)
		 RETURNING `+versionColumns,
		uuid.New(), write.Ref.EntityType, write.Ref.EntityID, write.BranchID,
		head+1, int64(write.ValidFrom), blob, write.CreatedBy, write.Comment,
	)

	version, err := scanVersion(row)
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("insert version: %w", err)
	}
	return version, nil
}

// validateWrite guards the append primitives against malformed coordinates
// before any SQL runs.
func validateWrite(write domain.VersionWrite) error {
	if strings.TrimSpace(write.Ref.EntityType) == "" {
		return fmt.Errorf("entity type is required")
	}
	if write.Ref.EntityID == uuid.Nil {
		return fmt.Errorf("entity id is required")
	}
	if write.BranchID == uuid.Nil {
		return fmt.Errorf("branch id is required")
	}
	if write.ExpectedVersion < 0 {
		return fmt.Errorf("expected version must not be negative")
	}
	if strings.TrimSpace(write.CreatedBy) == "" {
		return fmt.Errorf("createdBy is required")
	}
	return nil
}

func prefixedVersionColumns(alias string) string {
	columns := strings.Split(versionColumns, ", ")
	for i, column := range columns {
		columns[i] = alias + "." + column
	}
	return strings.Join(columns, ", ")
}

func scanVersion(row pgx.Row) (domain.EntityVersion, error) {
	var version domain.EntityVersion
	var validFrom int64
	var validTo *int64
	var blob []byte

	if err := row.Scan(
		&version.ID, &version.EntityType, &version.EntityID, &version.BranchID,
		&version.Version, &validFrom, &validTo, &blob,
		&version.CreatedBy, &version.CreatedAt, &version.Comment,
	); err != nil {
		return domain.EntityVersion{}, err
	}

	version.ValidFrom = domain.WorldTime(validFrom)
	if validTo != nil {
		converted := domain.WorldTime(*validTo)
		version.ValidTo = &converted
	}

	payload, err := payloadcodec.Decode(blob)
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("decode payload for version %s: %w", version.ID, err)
	}
	version.Payload = payload

	return version, nil
}
