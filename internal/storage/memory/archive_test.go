package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchivePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	archive := NewArchive()
	payload := []byte("content")
	uri, err := archive.PutObject(context.Background(), "run/turns/page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://run/turns/page.html", uri)

	payload[0] = 'C'
	stored, ok := archive.Object("run/turns/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"run/turns/page.html"}, archive.Paths())
}

func TestArchiveRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewArchive().PutObject(context.Background(), "", "text/html", nil)
	require.Error(t, err)
}
