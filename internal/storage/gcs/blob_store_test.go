package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/roundup-crawler/internal/storage"
)

// newTestStore creates a BlobStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := gcstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "roundups/data.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"ok":true}`)

		fmt.Fprintln(w, `{ "name": "roundups/data.json", "bucket": "test-bucket" }`)
	})
	store := newTestStore(t, handler, Config{Bucket: "test-bucket", Prefix: "/roundups/"})

	uri, err := store.PutObject(context.Background(), "data.json", "application/json", bytes.NewReader([]byte(`{"ok":true}`)))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/roundups/data.json", uri)
}

func TestGetObjectMissing(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	store := newTestStore(t, handler, Config{Bucket: "test-bucket"})

	_, err := store.GetObject(context.Background(), "data.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestEmptyPathRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), Config{Bucket: "test-bucket"})
	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "")
	require.Error(t, err)
}
