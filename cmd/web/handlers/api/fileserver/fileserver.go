// Package fileserver serves blobs of the local blob store behind signed URLs.
package fileserver

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/media"
)

// fileCacheEntry stores cached ETag info.
type fileCacheEntry struct {
	size    int64
	modTime time.Time
	etag    string
}

// FileCache memoizes ETags for on-disk files.
// Entries are invalidated automatically when file size or modtime changes.
type FileCache struct {
	mu      sync.RWMutex
	entries map[string]fileCacheEntry
}

func NewFileCache() *FileCache {
	return &FileCache{entries: make(map[string]fileCacheEntry)}
}

// ETag returns a weak size/modtime ETag for the file. Blob keys are never
// rewritten in place, so the weak form is enough.
func (c *FileCache) ETag(path string, info os.FileInfo) string {
	c.mu.RLock()
	if e, ok := c.entries[path]; ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		c.mu.RUnlock()
		return e.etag
	}
	c.mu.RUnlock()

	etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().Unix(), info.Size())
	c.mu.Lock()
	c.entries[path] = fileCacheEntry{size: info.Size(), modTime: info.ModTime(), etag: etag}
	c.mu.Unlock()
	return etag
}

type FileServer struct {
	store *blob.LocalStore
	cache *FileCache
}

func NewFileServer(store *blob.LocalStore) *FileServer {
	return &FileServer{store: store, cache: NewFileCache()}
}

// HandleBlob serves GET /blobs/* after checking the URL signature.
func (fs *FileServer) HandleBlob() echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Param("*")
		q := c.QueryParams()
		if err := fs.store.Verify(key, q); err != nil {
			if errors.Is(err, blob.ErrSignatureExpired) {
				return echo.NewHTTPError(http.StatusGone, "link expired")
			}
			return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
		}
		path, err := fs.store.Path(key)
		if err != nil {
			return echo.ErrNotFound
		}

		if dl := q.Get("dl"); dl != "" {
			c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": dl}))
		}
		return fs.serveFile(c, path, media.TypeForExtension(key), "private, max-age=300")
	}
}

// serveFile serves a file from disk with caching headers and conditional
// request support.
func (fs *FileServer) serveFile(c echo.Context, absPath, contentType, cacheControl string) error {
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		return echo.ErrNotFound
	}

	etag := fs.cache.ETag(absPath, info)
	if inm := c.Request().Header.Get("If-None-Match"); inm != "" && strings.TrimSpace(inm) == etag {
		return c.NoContent(http.StatusNotModified)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderCacheControl, cacheControl)
	h.Set("ETag", etag)
	if contentType != "" {
		h.Set(echo.HeaderContentType, contentType)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return echo.ErrNotFound
	}
	defer f.Close()

	// ServeContent handles Range and If-Modified-Since.
	http.ServeContent(c.Response(), c.Request(), filepath.Base(absPath), info.ModTime(), f)
	return nil
}
