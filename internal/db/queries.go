package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by the pool, a single connection and a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Asset is one row of the assets table.
type Asset struct {
	ID               pgtype.UUID
	OwnerID          pgtype.UUID
	StorageKey       string
	OriginalFilename string
	MediaType        string
	Size             int64
	ContentHash      string
	SourceURL        pgtype.Text
	Tags             pgtype.Text
	DurationMs       pgtype.Int8
	Width            pgtype.Int4
	Height           pgtype.Int4
	HasAudio         bool
	FrameHashes      []string
	AudioFingerprint pgtype.Text
	ThumbnailKey     pgtype.Text
	DerivedKey       pgtype.Text
	TranscodeStatus  string
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

const assetColumns = `id, owner_id, storage_key, original_filename, media_type, size, content_hash,
	source_url, tags, duration_ms, width, height, has_audio, frame_hashes, audio_fingerprint,
	thumbnail_key, derived_key, transcode_status, created_at, updated_at`

func scanAsset(row pgx.Row) (Asset, error) {
	var i Asset
	err := row.Scan(
		&i.ID,
		&i.OwnerID,
		&i.StorageKey,
		&i.OriginalFilename,
		&i.MediaType,
		&i.Size,
		&i.ContentHash,
		&i.SourceURL,
		&i.Tags,
		&i.DurationMs,
		&i.Width,
		&i.Height,
		&i.HasAudio,
		&i.FrameHashes,
		&i.AudioFingerprint,
		&i.ThumbnailKey,
		&i.DerivedKey,
		&i.TranscodeStatus,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getAssetByHash = `SELECT ` + assetColumns + `
FROM assets
WHERE owner_id = $1 AND content_hash = $2
LIMIT 1`

func (q *Queries) GetAssetByHash(ctx context.Context, ownerID pgtype.UUID, contentHash string) (Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, getAssetByHash, ownerID, contentHash))
}

const getAssetByID = `SELECT ` + assetColumns + `
FROM assets
WHERE id = $1 AND owner_id = $2`

func (q *Queries) GetAssetByID(ctx context.Context, id, ownerID pgtype.UUID) (Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, getAssetByID, id, ownerID))
}

const listAssetsByOwner = `SELECT ` + assetColumns + `
FROM assets
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC`

func (q *Queries) ListAssetsByOwner(ctx context.Context, ownerID pgtype.UUID) ([]Asset, error) {
	rows, err := q.db.Query(ctx, listAssetsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Asset
	for rows.Next() {
		i, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertAsset = `INSERT INTO assets (
	id, owner_id, storage_key, original_filename, media_type, size, content_hash,
	source_url, tags, duration_ms, width, height, has_audio, frame_hashes, audio_fingerprint,
	thumbnail_key, derived_key, transcode_status, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
	COALESCE($19, NOW()), NOW()
)
RETURNING ` + assetColumns

func (q *Queries) InsertAsset(ctx context.Context, arg Asset) (Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, insertAsset,
		arg.ID,
		arg.OwnerID,
		arg.StorageKey,
		arg.OriginalFilename,
		arg.MediaType,
		arg.Size,
		arg.ContentHash,
		arg.SourceURL,
		arg.Tags,
		arg.DurationMs,
		arg.Width,
		arg.Height,
		arg.HasAudio,
		arg.FrameHashes,
		arg.AudioFingerprint,
		arg.ThumbnailKey,
		arg.DerivedKey,
		arg.TranscodeStatus,
		arg.CreatedAt,
	))
}

const updateAsset = `UPDATE assets SET
	storage_key = $3,
	original_filename = $4,
	media_type = $5,
	size = $6,
	content_hash = $7,
	source_url = $8,
	tags = $9,
	duration_ms = $10,
	width = $11,
	height = $12,
	has_audio = $13,
	frame_hashes = $14,
	audio_fingerprint = $15,
	thumbnail_key = $16,
	derived_key = $17,
	transcode_status = $18,
	updated_at = NOW()
WHERE id = $1 AND owner_id = $2
RETURNING ` + assetColumns

func (q *Queries) UpdateAsset(ctx context.Context, arg Asset) (Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, updateAsset,
		arg.ID,
		arg.OwnerID,
		arg.StorageKey,
		arg.OriginalFilename,
		arg.MediaType,
		arg.Size,
		arg.ContentHash,
		arg.SourceURL,
		arg.Tags,
		arg.DurationMs,
		arg.Width,
		arg.Height,
		arg.HasAudio,
		arg.FrameHashes,
		arg.AudioFingerprint,
		arg.ThumbnailKey,
		arg.DerivedKey,
		arg.TranscodeStatus,
	))
}

const deleteAsset = `DELETE FROM assets WHERE id = $1 AND owner_id = $2`

func (q *Queries) DeleteAsset(ctx context.Context, id, ownerID pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteAsset, id, ownerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
