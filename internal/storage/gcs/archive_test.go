package gcs_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/clip-harvester/internal/storage/gcs"
)

func newClient(t *testing.T, handler http.HandlerFunc) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/upload/storage/v1/b/clip-archive/o") {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil || r.URL.Query().Get("uploadType") != "multipart" ||
			!strings.Contains(string(body), "<table>roster</table>") {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		uploads.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucket":"clip-archive","name":"run/turns/abc.html"}`))
	})

	archive, err := gcs.New(client, gcs.Config{Bucket: "clip-archive"})
	require.NoError(t, err)

	uri, err := archive.PutObject(context.Background(), "run/turns/abc.html", "text/html", []byte("<table>roster</table>"))
	require.NoError(t, err)
	require.Equal(t, "gs://clip-archive/run/turns/abc.html", uri)
	require.Equal(t, int32(1), uploads.Load())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	archive, err := gcs.New(client, gcs.Config{Bucket: "clip-archive"})
	require.NoError(t, err)

	_, err = archive.PutObject(context.Background(), " ", "text/html", nil)
	require.Error(t, err)
}

func TestPutObjectSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	})
	archive, err := gcs.New(client, gcs.Config{Bucket: "clip-archive"})
	require.NoError(t, err)

	_, err = archive.PutObject(context.Background(), "run/x.html", "text/html", []byte("x"))
	require.Error(t, err)
}
