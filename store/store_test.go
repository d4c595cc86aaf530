package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDocStoreFreshInstall(t *testing.T) {
	st := NewMemoryStore()

	state, err := st.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, State{}, state)
	assert.False(t, state.Provisioned())
}

func TestDocStoreMutations(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.SetIdentifier(ctx, "aWRlbnRpZmllcg=="))
	require.NoError(t, st.SetADIBlob(ctx, "blob"))
	require.NoError(t, st.SetDefaultServer(ctx, "https://ani.example.com"))
	require.NoError(t, st.TrustServer(ctx, "https://legacy.example.com"))

	state, err := st.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "aWRlbnRpZmllcg==", state.Identifier)
	assert.Equal(t, "blob", state.ADIBlob)
	assert.Equal(t, "https://ani.example.com", state.DefaultServer)
	assert.True(t, state.Provisioned())
	assert.True(t, state.ServerTrusted("https://legacy.example.com"))
	assert.False(t, state.ServerTrusted("https://other.example.com"))
}

func TestDocStoreClearADIBlobKeepsIdentifier(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.SetIdentifier(ctx, "id"))
	require.NoError(t, st.SetADIBlob(ctx, "blob"))
	require.NoError(t, st.ClearADIBlob(ctx))

	state, err := st.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id", state.Identifier)
	assert.Empty(t, state.ADIBlob)
	assert.False(t, state.Provisioned())
}

func TestDocStoreTrustServerIdempotent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.TrustServer(ctx, "https://legacy.example.com"))
	require.NoError(t, st.TrustServer(ctx, "https://legacy.example.com"))

	state, err := st.State(ctx)
	require.NoError(t, err)
	assert.Len(t, state.TrustedServers, 1)
}

func TestDocStoreCorruptDocument(t *testing.T) {
	st := newDocStore(&memoryBackend{doc: []byte("not json")})

	_, err := st.State(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt identity document")
}
