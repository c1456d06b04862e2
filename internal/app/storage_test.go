package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
)

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"items": [{"id": "burger", "name": "Burger", "price": "12.50"}],
		"users": [{"id": "alice", "name": "Alice", "email": "alice@example.com"}]
	}`), 0o600))

	st, err := openStores(ctx, zap.NewNop(), &Config{
		Storage:      StorageMemory,
		CatalogFile:  path,
		StaffAPIKey:  "staff-secret",
		APIKeyPepper: "pepper",
	})
	require.NoError(t, err)
	defer st.close()

	item, err := st.catalog.Resolve(ctx, "burger")
	require.NoError(t, err)
	assert.Equal(t, "12.50", item.Price.StringFixed(2))

	owners, err := st.users.Owners(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", owners["alice"].Name)

	info, err := auth.NewVerifier(st.keys, []byte("pepper")).Verify(ctx, "staff-secret", auth.ScopeStaff)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", info.ID)
	assert.Empty(t, st.checks)
}

func TestOpenMemory_MissingCatalog(t *testing.T) {
	_, err := openStores(context.Background(), zap.NewNop(), &Config{
		Storage:     StorageMemory,
		CatalogFile: filepath.Join(t.TempDir(), "missing.json"),
	})
	require.Error(t, err)
}

func TestWebsocketOrigins(t *testing.T) {
	assert.Nil(t, websocketOrigins([]string{"*"}))
	assert.Nil(t, websocketOrigins(nil))
	assert.Equal(t, []string{"https://shop.example"}, websocketOrigins([]string{"https://shop.example"}))
}
