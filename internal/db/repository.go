package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"thirdcoast.systems/reel/internal/media"
)

// AssetRepository stores assets in Postgres. The unique index on
// (owner_id, content_hash) turns a racing duplicate insert into
// media.ErrDuplicateHash.
type AssetRepository struct {
	q *Queries
}

var _ media.Repository = (*AssetRepository)(nil)

func NewAssetRepository(db DBTX) *AssetRepository {
	return &AssetRepository{q: New(db)}
}

func (r *AssetRepository) FindByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*media.Asset, error) {
	row, err := r.q.GetAssetByHash(ctx, PgUUID(ownerID), hash)
	if err != nil {
		return nil, notFound(err, "find asset by hash")
	}
	return toModel(row), nil
}

func (r *AssetRepository) FindByID(ctx context.Context, id, ownerID uuid.UUID) (*media.Asset, error) {
	row, err := r.q.GetAssetByID(ctx, PgUUID(id), PgUUID(ownerID))
	if err != nil {
		return nil, notFound(err, "find asset")
	}
	return toModel(row), nil
}

func (r *AssetRepository) FindAll(ctx context.Context, ownerID uuid.UUID) ([]*media.Asset, error) {
	rows, err := r.q.ListAssetsByOwner(ctx, PgUUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]*media.Asset, 0, len(rows))
	for _, row := range rows {
		out = append(out, toModel(row))
	}
	return out, nil
}

func (r *AssetRepository) Create(ctx context.Context, a *media.Asset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row, err := r.q.InsertAsset(ctx, fromModel(a))
	if err != nil {
		if IsUniqueViolation(err) {
			return media.ErrDuplicateHash
		}
		return fmt.Errorf("insert asset: %w", err)
	}
	*a = *toModel(row)
	return nil
}

func (r *AssetRepository) Update(ctx context.Context, a *media.Asset) error {
	row, err := r.q.UpdateAsset(ctx, fromModel(a))
	if err != nil {
		if IsUniqueViolation(err) {
			return media.ErrDuplicateHash
		}
		return notFound(err, "update asset")
	}
	*a = *toModel(row)
	return nil
}

func (r *AssetRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	n, err := r.q.DeleteAsset(ctx, PgUUID(id), PgUUID(ownerID))
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if n == 0 {
		return media.ErrNotFound
	}
	return nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return media.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toModel(row Asset) *media.Asset {
	return &media.Asset{
		ID:               GoUUID(row.ID),
		OwnerID:          GoUUID(row.OwnerID),
		StorageKey:       row.StorageKey,
		OriginalFilename: row.OriginalFilename,
		MediaType:        row.MediaType,
		Size:             row.Size,
		ContentHash:      row.ContentHash,
		SourceURL:        textPtr(row.SourceURL),
		Tags:             textPtr(row.Tags),
		DurationMS:       int8Ptr(row.DurationMs),
		Width:            int4Ptr(row.Width),
		Height:           int4Ptr(row.Height),
		HasAudio:         row.HasAudio,
		FrameHashes:      row.FrameHashes,
		AudioFingerprint: textPtr(row.AudioFingerprint),
		ThumbnailKey:     textPtr(row.ThumbnailKey),
		DerivedKey:       textPtr(row.DerivedKey),
		TranscodeStatus:  media.TranscodeStatus(row.TranscodeStatus),
		CreatedAt:        row.CreatedAt.Time,
		UpdatedAt:        row.UpdatedAt.Time,
	}
}

func fromModel(a *media.Asset) Asset {
	return Asset{
		ID:               PgUUID(a.ID),
		OwnerID:          PgUUID(a.OwnerID),
		StorageKey:       a.StorageKey,
		OriginalFilename: a.OriginalFilename,
		MediaType:        a.MediaType,
		Size:             a.Size,
		ContentHash:      a.ContentHash,
		SourceURL:        pgText(a.SourceURL),
		Tags:             pgText(a.Tags),
		DurationMs:       pgInt8(a.DurationMS),
		Width:            pgInt4(a.Width),
		Height:           pgInt4(a.Height),
		HasAudio:         a.HasAudio,
		FrameHashes:      a.FrameHashes,
		AudioFingerprint: pgText(a.AudioFingerprint),
		ThumbnailKey:     pgText(a.ThumbnailKey),
		DerivedKey:       pgText(a.DerivedKey),
		TranscodeStatus:  string(a.TranscodeStatus),
		CreatedAt:        pgTime(a.CreatedAt),
		UpdatedAt:        pgTime(a.UpdatedAt),
	}
}
