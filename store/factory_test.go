package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryFileScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	st, err := NewFactory(testLogger()).StoreFor("file://" + path)
	require.NoError(t, err)
	require.NoError(t, st.SetIdentifier(context.Background(), "id"))

	state, err := st.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", state.Identifier)
}

func TestFactoryMemScheme(t *testing.T) {
	st, err := NewFactory(testLogger()).StoreFor("mem://")
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Name())
}

func TestFactoryUnsupportedScheme(t *testing.T) {
	_, err := NewFactory(testLogger()).StoreFor("redis://localhost:6379")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store scheme")
}

func TestFactoryFileRequiresPath(t *testing.T) {
	_, err := NewFactory(testLogger()).StoreFor("file://")
	assert.Error(t, err)
}

func TestFactoryVaultRequiresMountAndPath(t *testing.T) {
	_, err := NewFactory(testLogger()).StoreFor("vault://vault.example.com:8200/onlymount")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mount and data path")
}

func TestFactoryS3RequiresBucket(t *testing.T) {
	_, err := NewFactory(testLogger()).StoreFor("s3:///prefix")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}
