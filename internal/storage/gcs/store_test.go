package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresClientAndBucket(t *testing.T) {
	_, err := New(nil, Config{Bucket: "locations"})
	require.Error(t, err)

	_, err = New(nil, Config{})
	require.Error(t, err)
}

func TestPersistEmptyBatchSkipsUpload(t *testing.T) {
	// The guard must fire before the store touches the bucket, so a nil
	// client proves no upload was attempted.
	store := &Store{bucket: "locations"}

	count, err := store.Persist(context.Background(), "acme", nil)
	require.NoError(t, err)
	require.Zero(t, count)
}
