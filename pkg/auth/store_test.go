package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewCredentialStoreAt(t.TempDir())

	creds := &ServerCredentials{
		AccessToken:  "token-123",
		RefreshToken: "refresh-456",
		Scope:        "tools:read",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, store.Save("github", creds))

	got, err := store.Get("github")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "token-123", got.AccessToken)
	assert.Equal(t, "refresh-456", got.RefreshToken)
	assert.Equal(t, "tools:read", got.Scope)
}

func TestStoreGetMissingReturnsNil(t *testing.T) {
	store := NewCredentialStoreAt(t.TempDir())

	got, err := store.Get("never-saved")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreClearIsIdempotent(t *testing.T) {
	store := NewCredentialStoreAt(t.TempDir())

	require.NoError(t, store.Save("s1", &ServerCredentials{AccessToken: "t"}))
	require.NoError(t, store.Clear("s1"))
	require.NoError(t, store.Clear("s1"))

	got, err := store.Get("s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreOneFilePerServer(t *testing.T) {
	dir := t.TempDir()
	store := NewCredentialStoreAt(dir)

	require.NoError(t, store.Save("alpha", &ServerCredentials{AccessToken: "a"}))
	require.NoError(t, store.Save("beta", &ServerCredentials{AccessToken: "b"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = os.Stat(filepath.Join(dir, "alpha.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "beta.json"))
	assert.NoError(t, err)
}

func TestStoreSanitizesServerNames(t *testing.T) {
	dir := t.TempDir()
	store := NewCredentialStoreAt(dir)

	require.NoError(t, store.Save("../evil/name", &ServerCredentials{AccessToken: "x"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
}

func TestExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{"no expiry recorded", 0, false},
		{"expires in an hour", time.Now().Add(time.Hour).Unix(), false},
		{"expires within leeway", time.Now().Add(time.Minute).Unix(), true},
		{"already expired", time.Now().Add(-time.Hour).Unix(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &ServerCredentials{AccessToken: "t", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, creds.Expired())
		})
	}
}
