package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reel/cmd/web/handlers/common"
	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/fetch"
	"thirdcoast.systems/reel/internal/ingest"
	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/internal/notify"
)

type passthroughResolver struct{}

func (passthroughResolver) Resolve(ctx context.Context, sourceURL string) string { return sourceURL }

type testServer struct {
	*Webserver
	engine *ingest.Engine
	repo   *media.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := media.NewMemoryRepository()
	store, err := blob.NewLocalStore(t.TempDir(), "http://reel.test/blobs", "secret", nil)
	require.NoError(t, err)
	spool := t.TempDir()

	fetcher := fetch.New(fetch.WithMaxRetries(0))
	engine := ingest.NewEngine(repo, store, passthroughResolver{}, fetcher, nil, notify.NewRecorder(), ingest.Options{SpoolDir: spool})

	ws, err := NewWebserver(Deps{Engine: engine, Repo: repo, Store: store, SpoolDir: spool})
	require.NoError(t, err)
	return &testServer{Webserver: ws, engine: engine, repo: repo}
}

func (s *testServer) do(t *testing.T, req *http.Request, user uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	if user != uuid.Nil {
		req.Header.Set(common.UserHeader, user.String())
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, name string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/assets", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIngestRoutes(t *testing.T) {
	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("an mp4 body"))
	}))
	defer mediaSrv.Close()

	s := newTestServer(t)
	owner := uuid.New()

	t.Run("requires user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"url":"https://example.com/a.mp4"}`))
		req.Header.Set("Content-Type", "application/json")
		require.Equal(t, http.StatusUnauthorized, s.do(t, req, uuid.Nil).Code)
	})

	t.Run("rejects missing url", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"url":"  "}`))
		req.Header.Set("Content-Type", "application/json")
		require.Equal(t, http.StatusBadRequest, s.do(t, req, owner).Code)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"url":"`+mediaSrv.URL+`/clip.mp4"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(t, req, owner)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decode[map[string]string](t, rec)["job_id"]
	require.NotEmpty(t, jobID)
	s.engine.Wait()

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/"+jobID, nil), owner)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[ingest.Snapshot](t, rec)
	require.Equal(t, ingest.StateDone, snap.State, snap.Error)
	require.NotNil(t, snap.AssetID)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/"+jobID, nil), uuid.New())
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/not-a-uuid", nil), owner)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssetRoutes(t *testing.T) {
	s := newTestServer(t)
	owner := uuid.New()
	content := []byte("GIF89a tiny gif payload")

	rec := s.do(t, multipartUpload(t, "party.gif", content, map[string]string{"tags": "fun"}), owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[media.Asset](t, rec)
	require.Equal(t, "image/gif", created.MediaType)
	require.Equal(t, "party.gif", created.OriginalFilename)

	rec = s.do(t, multipartUpload(t, "again.gif", content, nil), owner)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, created.ID.String(), decode[common.DuplicateResponse](t, rec).ExistingAssetID)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/assets/check?hash="+created.ContentHash, nil), owner)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[map[string]any](t, rec)
	require.Equal(t, true, check["exists"])
	require.Equal(t, created.ID.String(), check["asset_id"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/assets/check?hash="+created.ContentHash, nil), uuid.New())
	require.Equal(t, false, decode[map[string]any](t, rec)["exists"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/assets/check?hash=xyz", nil), owner)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/assets/"+created.ID.String()+"/url?ttl=60&download=1", nil), owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	signed := decode[map[string]any](t, rec)["url"].(string)
	require.True(t, strings.HasPrefix(signed, "http://reel.test/blobs/media/"+owner.String()+"/"))

	u, err := url.Parse(signed)
	require.NoError(t, err)
	rec = s.do(t, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, content, rec.Body.Bytes())
	require.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "party.gif")

	q := u.Query()
	q.Set("dl", "other.gif")
	rec = s.do(t, httptest.NewRequest(http.MethodGet, u.Path+"?"+q.Encode(), nil), uuid.Nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/assets/"+created.ID.String()+"/url", nil), uuid.New())
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/assets/"+created.ID.String()+"/url?variant=thumbnail", nil), owner)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignedURL_Expired(t *testing.T) {
	s := newTestServer(t)
	owner := uuid.New()

	rec := s.do(t, multipartUpload(t, "a.mp4", []byte("short video"), nil), owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[media.Asset](t, rec)

	signed, err := s.deps.Store.SignedURL(context.Background(), created.StorageKey, -time.Minute, "")
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil), uuid.Nil)
	require.Equal(t, http.StatusGone, rec.Code)
}
