package database

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/pkg/errors"
)

func NewSyncBlobRepo(log logger.Logger, db *DB) domain.SyncBlobRepo {
	return &SyncBlobRepo{
		log: log.With().Str("repo", "sync_blob").Logger(),
		db:  db,
	}
}

type SyncBlobRepo struct {
	log zerolog.Logger
	db  *DB
}

// Store appends a blob to the scope's history. The row is never updated
// afterwards; reconciliation works by adding rows, not rewriting them.
func (r *SyncBlobRepo) Store(ctx context.Context, blob domain.SyncBlob) (*domain.SyncBlob, error) {
	blob.ID = uuid.NewString()

	queryBuilder := r.db.squirrel.
		Insert("sync_blob").
		Columns("id", "scope", "version", "encrypted_data", "recovery_hash", "timestamp", "synced", "conflict", "conflict_with").
		Values(blob.ID, blob.Scope, blob.Version, blob.EncryptedData, blob.RecoveryHash, blob.Timestamp, blob.Synced, blob.Conflict, blob.ConflictWith).
		RunWith(r.db.handler)

	if _, err := queryBuilder.ExecContext(ctx); err != nil {
		r.log.Error().Err(err).Str("scope", blob.Scope).Msg("failed to store sync blob")
		return nil, errors.Wrap(err, "failed to store sync blob")
	}

	return &blob, nil
}

// Latest returns the highest-version non-conflict blob for the scope.
// Version order is semantic, not lexicographic, so ordering happens here
// rather than in SQL.
func (r *SyncBlobRepo) Latest(ctx context.Context, scope string) (*domain.SyncBlob, error) {
	blobs, err := r.History(ctx, scope)
	if err != nil {
		return nil, err
	}

	var latest *domain.SyncBlob
	var latestVersion *version.Version

	for i := range blobs {
		blob := &blobs[i]
		if blob.Conflict {
			continue
		}

		v, err := version.NewVersion(blob.Version)
		if err != nil {
			r.log.Warn().Err(err).Str("id", blob.ID).Str("version", blob.Version).Msg("skipping blob with unparseable version")
			continue
		}

		if latestVersion == nil || v.GreaterThan(latestVersion) {
			latest = blob
			latestVersion = v
		}
	}

	return latest, nil
}

func (r *SyncBlobRepo) History(ctx context.Context, scope string) ([]domain.SyncBlob, error) {
	queryBuilder := r.db.squirrel.
		Select("id", "scope", "version", "encrypted_data", "recovery_hash", "timestamp", "synced", "conflict", "conflict_with").
		From("sync_blob").
		Where(sq.Eq{"scope": scope}).
		OrderBy("timestamp ASC").
		RunWith(r.db.handler)

	rows, err := queryBuilder.QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query sync blob history")
	}
	defer rows.Close()

	var blobs []domain.SyncBlob
	for rows.Next() {
		var blob domain.SyncBlob
		if err := rows.Scan(&blob.ID, &blob.Scope, &blob.Version, &blob.EncryptedData, &blob.RecoveryHash, &blob.Timestamp, &blob.Synced, &blob.Conflict, &blob.ConflictWith); err != nil {
			return nil, errors.Wrap(err, "failed to scan sync blob row")
		}
		blobs = append(blobs, blob)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading sync blob rows")
	}

	return blobs, nil
}

func (r *SyncBlobRepo) CountByScope(ctx context.Context, scope string) (int, error) {
	queryBuilder := r.db.squirrel.
		Select("COUNT(*)").
		From("sync_blob").
		Where(sq.Eq{"scope": scope}).
		RunWith(r.db.handler)

	var count int
	if err := queryBuilder.QueryRowContext(ctx).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to count sync blobs")
	}

	return count, nil
}

func (r *SyncBlobRepo) DeleteByScope(ctx context.Context, scope string) error {
	queryBuilder := r.db.squirrel.
		Delete("sync_blob").
		Where(sq.Eq{"scope": scope}).
		RunWith(r.db.handler)

	result, err := queryBuilder.ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to delete sync blobs")
	}

	deleted, err := result.RowsAffected()
	if err == nil {
		r.log.Debug().Str("scope", scope).Int64("deleted", deleted).Msg("sync blob history wiped")
	}

	return nil
}
