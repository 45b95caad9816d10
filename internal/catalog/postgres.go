package catalog

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Postgres reads and updates the movies table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)

	if err != nil {
		return nil, errors.Wrap(err, "unable to create postgres pool")
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to reach postgres")
	}

	return &Postgres{pool: pool}, nil
}

func movieID(ownerID string) (int64, error) {
	id, err := strconv.ParseInt(ownerID, 10, 64)

	if err != nil {
		return 0, errors.Wrapf(err, "invalid movie id '%s'", ownerID)
	}

	return id, nil
}

func (p *Postgres) GetAsset(ctx context.Context, ownerID string) (*Asset, error) {
	id, err := movieID(ownerID)

	if err != nil {
		return nil, err
	}

	query := `
		SELECT COALESCE(video_file_id, ''), COALESCE(processing_status, 'pending'),
			available_qualities, COALESCE(hls_manifest_url, ''), COALESCE(duration_seconds, 0)
		FROM movies WHERE id=$1`

	asset := &Asset{OwnerID: ownerID}
	var qualities []byte

	err = p.pool.QueryRow(ctx, query, id).Scan(
		&asset.SourceAssetID, &asset.State, &qualities, &asset.ManifestKey, &asset.DurationSeconds,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "movie %s", ownerID)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unable to get movie %s", ownerID)
	}

	if len(qualities) > 0 {
		if err = json.Unmarshal(qualities, &asset.Qualities); err != nil {
			return nil, errors.Wrapf(err, "unable to decode qualities of movie %s", ownerID)
		}
	}

	return asset, nil
}

func (p *Postgres) SetProcessingState(ctx context.Context, ownerID string, u Update) error {
	id, err := movieID(ownerID)

	if err != nil {
		return err
	}

	var qualities *string

	if u.Qualities != nil {
		data, err := json.Marshal(u.Qualities)

		if err != nil {
			return errors.Wrap(err, "unable to encode qualities")
		}

		qualities = String(string(data))
	}

	query := `
		UPDATE movies SET
			processing_status=$2,
			video_file_id=COALESCE($3, video_file_id),
			available_qualities=COALESCE($4::json, available_qualities),
			hls_manifest_url=COALESCE($5, hls_manifest_url),
			duration_seconds=COALESCE($6, duration_seconds)
		WHERE id=$1`

	tag, err := p.pool.Exec(ctx, query, id, u.State, u.SourceAssetID, qualities, u.ManifestKey, u.DurationSeconds)

	if err != nil {
		return errors.Wrapf(err, "unable to update movie %s", ownerID)
	}

	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "movie %s", ownerID)
	}

	return nil
}

func (p *Postgres) ClearAsset(ctx context.Context, ownerID string) error {
	id, err := movieID(ownerID)

	if err != nil {
		return err
	}

	query := `
		UPDATE movies SET
			video_file_id=NULL, processing_status=$2, available_qualities=NULL,
			hls_manifest_url=NULL, duration_seconds=NULL
		WHERE id=$1`

	tag, err := p.pool.Exec(ctx, query, id, StatePending)

	if err != nil {
		return errors.Wrapf(err, "unable to clear movie %s", ownerID)
	}

	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "movie %s", ownerID)
	}

	return nil
}

func (p *Postgres) SourceAssetIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT video_file_id FROM movies WHERE video_file_id IS NOT NULL`)

	if err != nil {
		return nil, errors.Wrap(err, "unable to list video files")
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])

	if err != nil {
		return nil, errors.Wrap(err, "unable to read video files")
	}

	return ids, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
