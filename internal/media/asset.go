// Package media defines the stored Asset record and the repository contract
// the ingest and derivative pipelines persist it through.
package media

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("asset not found")
	// ErrDuplicateHash is returned by Create and Update when the owner already
	// has an asset with the same content hash.
	ErrDuplicateHash = errors.New("asset with this content hash already exists")
)

type TranscodeStatus string

const (
	TranscodeNone       TranscodeStatus = ""
	TranscodeProcessing TranscodeStatus = "processing"
	TranscodeReady      TranscodeStatus = "ready"
	TranscodeFailed     TranscodeStatus = "failed"
)

type Asset struct {
	ID               uuid.UUID       `json:"id"`
	OwnerID          uuid.UUID       `json:"owner_id"`
	StorageKey       string          `json:"storage_key"`
	OriginalFilename string          `json:"original_filename"`
	MediaType        string          `json:"media_type"`
	Size             int64           `json:"size"`
	ContentHash      string          `json:"content_hash"`
	SourceURL        *string         `json:"source_url,omitempty"`
	Tags             *string         `json:"tags,omitempty"`
	DurationMS       *int64          `json:"duration_ms,omitempty"`
	Width            *int            `json:"width,omitempty"`
	Height           *int            `json:"height,omitempty"`
	HasAudio         bool            `json:"has_audio"`
	FrameHashes      []string        `json:"frame_hashes,omitempty"`
	AudioFingerprint *string         `json:"audio_fingerprint,omitempty"`
	ThumbnailKey     *string         `json:"thumbnail_key,omitempty"`
	DerivedKey       *string         `json:"derived_key,omitempty"`
	TranscodeStatus  TranscodeStatus `json:"transcode_status,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Repository is the persistence contract for assets. Every lookup is scoped
// to an owner.
type Repository interface {
	FindByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*Asset, error)
	FindByID(ctx context.Context, id, ownerID uuid.UUID) (*Asset, error)
	// FindAll returns the owner's assets, most recently created first.
	FindAll(ctx context.Context, ownerID uuid.UUID) ([]*Asset, error)
	Create(ctx context.Context, a *Asset) error
	Update(ctx context.Context, a *Asset) error
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// IsVideo reports whether the media type is a video container.
func IsVideo(mediaType string) bool {
	return strings.HasPrefix(mediaType, "video/")
}

func IsGIF(mediaType string) bool {
	return mediaType == "image/gif"
}

// IsStillImage reports image types other than GIF.
func IsStillImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && !IsGIF(mediaType)
}

// NeedsTranscode reports containers that browsers cannot play directly.
func NeedsTranscode(mediaType, filename string) bool {
	switch mediaType {
	case "video/x-matroska", "video/quicktime", "video/x-msvideo", "video/x-flv",
		"video/x-ms-wmv", "video/mpeg", "video/3gpp", "image/gif":
		return true
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".mkv", ".mov", ".avi", ".flv", ".wmv", ".mpeg", ".mpg", ".3gp", ".gif":
		return true
	}
	return false
}

var extByType = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
	"video/x-msvideo":  ".avi",
	"video/x-flv":      ".flv",
	"video/x-ms-wmv":   ".wmv",
	"video/mpeg":       ".mpeg",
	"video/3gpp":       ".3gp",
	"image/gif":        ".gif",
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/webp":       ".webp",
	"image/avif":       ".avif",

	"application/vnd.apple.mpegurl": ".m3u8",
	"application/x-mpegurl":         ".m3u8",
}

var typeByExt = func() map[string]string {
	m := make(map[string]string, len(extByType))
	for t, ext := range extByType {
		if _, ok := m[ext]; !ok {
			m[ext] = t
		}
	}
	m[".jpeg"] = "image/jpeg"
	m[".m4v"] = "video/mp4"
	m[".mpg"] = "video/mpeg"
	m[".m3u8"] = "application/vnd.apple.mpegurl"
	return m
}()

// ExtensionFor returns the canonical file extension for a media type, or "".
func ExtensionFor(mediaType string) string {
	return extByType[NormalizeType(mediaType)]
}

// TypeForExtension returns the media type for a filename extension, or "".
func TypeForExtension(name string) string {
	return typeByExt[strings.ToLower(path.Ext(name))]
}

// NormalizeType strips parameters and lowercases a Content-Type value.
func NormalizeType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
