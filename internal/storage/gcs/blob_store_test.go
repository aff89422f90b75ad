package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var gotName, gotBody string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/pages-bucket/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotBody = string(body)
		fmt.Fprintf(w, `{"name":%q,"bucket":"pages-bucket"}`, gotName)
	}))

	store, err := Open(context.Background(), client, Config{Bucket: "pages-bucket", Prefix: "/archive/"}, nil)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/w-1/20250601T090000Z.html", "text/html",
		strings.NewReader("<html>widget</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://pages-bucket/archive/pages/w-1/20250601T090000Z.html", uri)
	assert.Equal(t, "archive/pages/w-1/20250601T090000Z.html", gotName)
	assert.Contains(t, gotBody, "<html>widget</html>")
}

func TestOpenValidates(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), nil, Config{Bucket: "b"}, nil)
	require.Error(t, err)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}))
	_, err = Open(context.Background(), client, Config{Bucket: " "}, nil)
	require.Error(t, err)

	_, err = Open(context.Background(), client, Config{Bucket: "missing", VerifyBucket: true}, nil)
	require.Error(t, err)
}

func TestPutObjectRequiresName(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NotFoundHandler())
	store, err := Open(context.Background(), client, Config{Bucket: "b"}, nil)
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "  ", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
