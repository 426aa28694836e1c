package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	archive := NewBlobStore()
	payload := []byte(`{"data":[]}`)
	uri, err := archive.PutObject(context.Background(), "raw/search/page-1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://raw/search/page-1.json", uri)

	payload[0] = '['
	stored, contentType, ok := archive.Object("raw/search/page-1.json")
	require.True(t, ok)
	require.Equal(t, `{"data":[]}`, string(stored))
	require.Equal(t, "application/json", contentType)
	require.Equal(t, []string{"raw/search/page-1.json"}, archive.Paths())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "application/json", bytes.NewReader(nil))
	require.Error(t, err)
}
