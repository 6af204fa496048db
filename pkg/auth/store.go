// Package auth implements OAuth credential persistence and the PKCE
// authorization flow for MCP servers that require authentication.
package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// expiryLeeway is how long before the recorded expiry a token is already
// treated as expired, so calls in flight do not race the deadline.
const expiryLeeway = 5 * time.Minute

// ServerCredentials is the persisted token record for one MCP server.
type ServerCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	// ExpiresAt is the unix timestamp the access token expires at, computed
	// from expires_in when the token was issued. Zero means no known expiry.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// Client registration outcome, kept next to the tokens so refresh does
	// not require re-discovery.
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	TokenEndpoint string `json:"token_endpoint,omitempty"`
}

// Expired reports whether the access token is expired or about to expire.
func (c *ServerCredentials) Expired() bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(expiryLeeway).Unix() >= c.ExpiresAt
}

// CredentialStore persists one credential file per server under a token
// directory. Writes are whole-file replacements so concurrent readers never
// observe a partial record.
type CredentialStore struct {
	dir string
}

// NewCredentialStore creates a store rooted at the default token directory
// (~/.quill/mcp-tokens, or $QUILL_BASE_PATH/mcp-tokens when set).
func NewCredentialStore() (*CredentialStore, error) {
	if base := os.Getenv("QUILL_BASE_PATH"); base != "" {
		return &CredentialStore{dir: filepath.Join(base, "mcp-tokens")}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}
	return &CredentialStore{dir: filepath.Join(home, ".quill", "mcp-tokens")}, nil
}

// NewCredentialStoreAt creates a store rooted at dir. Used by tests.
func NewCredentialStoreAt(dir string) *CredentialStore {
	return &CredentialStore{dir: dir}
}

// Get returns the stored credentials for a server, or nil when none exist.
func (s *CredentialStore) Get(server string) (*ServerCredentials, error) {
	data, err := os.ReadFile(s.path(server))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read credentials for %s", server)
	}

	var creds ServerCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrapf(err, "failed to decode credentials for %s", server)
	}
	return &creds, nil
}

// Save persists credentials for a server, replacing any previous record.
func (s *CredentialStore) Save(server string, creds *ServerCredentials) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "failed to create token directory")
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode credentials")
	}

	// Write to a temp file in the same directory and rename it over the
	// destination so readers never see a partial write.
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+sanitize(server)+"-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp credentials file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write credentials")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close credentials file")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to set credentials file mode")
	}
	if err := os.Rename(tmpName, s.path(server)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to persist credentials for %s", server)
	}
	return nil
}

// Clear removes the stored credentials for a server. Clearing a server that
// has no credentials is not an error.
func (s *CredentialStore) Clear(server string) error {
	err := os.Remove(s.path(server))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to clear credentials for %s", server)
	}
	return nil
}

func (s *CredentialStore) path(server string) string {
	return filepath.Join(s.dir, sanitize(server)+".json")
}

// sanitize keeps server names filesystem-safe.
func sanitize(server string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, server)
}
