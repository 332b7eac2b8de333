package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/openclob/polymirror/internal/blob/s3"
	"github.com/openclob/polymirror/internal/domain"
)

type fakeBlobStore struct {
	objects map[string]string
	deleted []string
	err     error
}

func (f *fakeBlobStore) List(_ context.Context, prefix string) ([]s3blob.BlobInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var infos []s3blob.BlobInfo
	for path, body := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, s3blob.BlobInfo{
				Path:         path,
				Size:         int64(len(body)),
				LastModified: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			})
		}
	}
	return infos, nil
}

func (f *fakeBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobStore) Delete(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	delete(f.objects, path)
	return nil
}

func newArchiveMux(blobs *fakeBlobStore) *http.ServeMux {
	h := NewArchiveHandler(blobs, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives", h.List)
	mux.HandleFunc("GET /api/archives/{path...}", h.Download)
	mux.HandleFunc("DELETE /api/archives/{path...}", h.Delete)
	return mux
}

func TestArchiveListFiltersByPrefix(t *testing.T) {
	blobs := &fakeBlobStore{objects: map[string]string{
		"archive/copy_trades/2026-07/a.jsonl":     "{}\n",
		"archive/strategy_events/2026-07/b.jsonl": "{}\n{}\n",
	}}
	mux := newArchiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Archives []archiveInfo `json:"archives"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Archives, 2)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives?prefix=copy_trades", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	decodeBody(t, rec, &body)
	require.Len(t, body.Archives, 1)
	assert.Equal(t, "archive/copy_trades/2026-07/a.jsonl", body.Archives[0].Path)
	assert.Equal(t, int64(3), body.Archives[0].Size)
}

func TestArchiveDownloadStreamsJSONL(t *testing.T) {
	blobs := &fakeBlobStore{objects: map[string]string{
		"archive/copy_trades/2026-07/a.jsonl": "{\"id\":1}\n{\"id\":2}\n",
	}}
	mux := newArchiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/archive/copy_trades/2026-07/a.jsonl", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", rec.Body.String())
}

func TestArchiveDownloadMissingIs404(t *testing.T) {
	mux := newArchiveMux(&fakeBlobStore{objects: map[string]string{}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/archive/copy_trades/2026-07/gone.jsonl", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchivePathsOutsideNamespaceAreHidden(t *testing.T) {
	blobs := &fakeBlobStore{objects: map[string]string{
		"secrets/wallet.key": "0xdeadbeef",
	}}
	mux := newArchiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/secrets/wallet.key", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/archives/secrets/wallet.key", nil)
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, blobs.deleted)
}

func TestArchiveDelete(t *testing.T) {
	blobs := &fakeBlobStore{objects: map[string]string{
		"archive/copy_trades/2026-07/a.jsonl": "{}\n",
	}}
	mux := newArchiveMux(blobs)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/archives/archive/copy_trades/2026-07/a.jsonl", nil)
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"archive/copy_trades/2026-07/a.jsonl"}, blobs.deleted)
	assert.Empty(t, blobs.objects)
}
