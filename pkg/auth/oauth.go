package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2/authhandler"

	"github.com/quillhq/quill/pkg/logger"
	"github.com/quillhq/quill/pkg/utils"
)

const (
	// DefaultCallbackAddr is the localhost listener for the OAuth redirect.
	DefaultCallbackAddr = "127.0.0.1:19876"
	// DefaultCallbackPath is the redirect path registered with the server.
	DefaultCallbackPath = "/mcp/oauth/callback"

	// exchangeTimeout bounds every token exchange and refresh call.
	exchangeTimeout = 30 * time.Second
	// authorizeTimeout bounds the whole interactive flow, browser included.
	authorizeTimeout = 5 * time.Minute
)

// ErrClientRegistration indicates the server requires an OAuth client that
// could not be configured or dynamically registered.
var ErrClientRegistration = errors.New("no OAuth client registered for server")

// ClientConfig is the OAuth client configuration supplied in a remote server
// descriptor.
type ClientConfig struct {
	ClientID     string `json:"clientId" mapstructure:"client_id"`
	ClientSecret string `json:"clientSecret,omitempty" mapstructure:"client_secret"`
	Scope        string `json:"scope,omitempty" mapstructure:"scope"`
}

// Authorizer drives the PKCE authorization-code flow and token refresh for
// MCP servers, persisting outcomes through the credential store.
type Authorizer struct {
	store        *CredentialStore
	httpClient   *http.Client
	callbackAddr string
	callbackPath string
	openBrowser  func(string) error
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithCallback overrides the localhost callback listener address and path.
func WithCallback(addr, path string) Option {
	return func(a *Authorizer) {
		a.callbackAddr = addr
		a.callbackPath = path
	}
}

// WithHTTPClient overrides the HTTP client used for discovery and exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authorizer) { a.httpClient = c }
}

// WithBrowserOpener overrides how the authorization URL is presented.
func WithBrowserOpener(open func(string) error) Option {
	return func(a *Authorizer) { a.openBrowser = open }
}

// NewAuthorizer creates an Authorizer backed by the given credential store.
func NewAuthorizer(store *CredentialStore, opts ...Option) *Authorizer {
	a := &Authorizer{
		store:        store,
		httpClient:   &http.Client{Timeout: exchangeTimeout},
		callbackAddr: DefaultCallbackAddr,
		callbackPath: DefaultCallbackPath,
		openBrowser:  utils.OpenBrowser,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetValidToken returns a non-expired access token for the server, or an
// empty string when none can be obtained without user interaction. Refresh
// failures clear the stored credentials; they are never fatal to the caller.
func (a *Authorizer) GetValidToken(ctx context.Context, server string) (string, error) {
	creds, err := a.store.Get(server)
	if err != nil {
		return "", err
	}
	if creds == nil || creds.AccessToken == "" {
		return "", nil
	}
	if !creds.Expired() {
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" || creds.TokenEndpoint == "" {
		logger.G(ctx).WithField("server", server).Debug("stored token expired and not refreshable")
		if err := a.store.Clear(server); err != nil {
			return "", err
		}
		return "", nil
	}

	refreshed, err := a.refresh(ctx, server, creds)
	if err != nil {
		logger.G(ctx).WithField("server", server).WithError(err).Warn("token refresh failed, clearing credentials")
		if clearErr := a.store.Clear(server); clearErr != nil {
			return "", clearErr
		}
		return "", nil
	}
	return refreshed.AccessToken, nil
}

// HasClient reports whether an OAuth client is available for the server,
// either from configuration or from a previous dynamic registration.
func (a *Authorizer) HasClient(server string, cfg ClientConfig) bool {
	if cfg.ClientID != "" {
		return true
	}
	creds, err := a.store.Get(server)
	return err == nil && creds != nil && creds.ClientID != ""
}

// Logout removes all stored credentials for the server.
func (a *Authorizer) Logout(server string) error {
	return a.store.Clear(server)
}

// Authorize runs the full interactive PKCE flow for a server: endpoint
// discovery, optional dynamic client registration, browser hand-off, local
// callback, code exchange, and credential persistence.
func (a *Authorizer) Authorize(ctx context.Context, server, serverURL string, cfg ClientConfig) error {
	ctx, cancel := context.WithTimeout(ctx, authorizeTimeout)
	defer cancel()

	endpoints, err := a.discoverEndpoints(ctx, serverURL)
	if err != nil {
		return errors.Wrapf(err, "failed to discover OAuth endpoints for %s", server)
	}

	clientID, clientSecret := cfg.ClientID, cfg.ClientSecret
	if clientID == "" {
		stored, err := a.store.Get(server)
		if err != nil {
			return err
		}
		if stored != nil && stored.ClientID != "" {
			clientID, clientSecret = stored.ClientID, stored.ClientSecret
		} else {
			clientID, clientSecret, err = a.registerClient(ctx, endpoints, server)
			if err != nil {
				return errors.Wrapf(ErrClientRegistration, "%s: %v", server, err)
			}
		}
	}

	pkce := generatePKCEParams()
	state := uuid.NewString()
	redirectURI := a.redirectURI()

	authURL, err := buildAuthorizeURL(endpoints.AuthorizationEndpoint, authorizeParams{
		clientID:    clientID,
		redirectURI: redirectURI,
		scope:       cfg.Scope,
		state:       state,
		pkce:        pkce,
	})
	if err != nil {
		return err
	}

	callback := newCallbackServer(a.callbackAddr, a.callbackPath, state)
	if err := callback.start(); err != nil {
		return errors.Wrap(err, "failed to start OAuth callback listener")
	}
	defer callback.stop(context.Background())

	log := logger.G(ctx).WithField("server", server)
	log.WithField("url", authURL).Info("opening browser for authorization")
	if err := a.openBrowser(authURL); err != nil {
		log.WithError(err).Warn("could not open browser, visit the authorization URL manually")
	}

	code, err := callback.wait(ctx)
	if err != nil {
		return errors.Wrapf(err, "authorization for %s did not complete", server)
	}

	token, err := a.exchangeCode(ctx, endpoints.TokenEndpoint, exchangeParams{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		code:         code,
		verifier:     pkce.Verifier,
	})
	if err != nil {
		return errors.Wrapf(err, "token exchange for %s failed", server)
	}

	creds := &ServerCredentials{
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenType:     token.TokenType,
		Scope:         token.Scope,
		ExpiresAt:     expiresAt(token.ExpiresIn),
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		TokenEndpoint: endpoints.TokenEndpoint,
	}
	if err := a.store.Save(server, creds); err != nil {
		return err
	}
	log.Info("authorization complete")
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

type exchangeParams struct {
	clientID     string
	clientSecret string
	redirectURI  string
	code         string
	verifier     string
}

func (a *Authorizer) exchangeCode(ctx context.Context, tokenEndpoint string, p exchangeParams) (*tokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {p.code},
		"redirect_uri":  {p.redirectURI},
		"client_id":     {p.clientID},
		"code_verifier": {p.verifier},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}
	return a.postTokenForm(ctx, tokenEndpoint, form)
}

func (a *Authorizer) refresh(ctx context.Context, server string, creds *ServerCredentials) (*ServerCredentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {creds.ClientID},
	}
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	token, err := a.postTokenForm(ctx, creds.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}

	refreshed := &ServerCredentials{
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenType:     token.TokenType,
		Scope:         creds.Scope,
		ExpiresAt:     expiresAt(token.ExpiresIn),
		ClientID:      creds.ClientID,
		ClientSecret:  creds.ClientSecret,
		TokenEndpoint: creds.TokenEndpoint,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	if err := a.store.Save(server, refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

func (a *Authorizer) postTokenForm(ctx context.Context, endpoint string, form url.Values) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, errors.Wrap(err, "failed to parse token response")
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &token, nil
}

type authorizeParams struct {
	clientID    string
	redirectURI string
	scope       string
	state       string
	pkce        *authhandler.PKCEParams
}

func buildAuthorizeURL(endpoint string, p authorizeParams) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse authorization endpoint")
	}

	query := url.Values{
		"client_id":             {p.clientID},
		"redirect_uri":          {p.redirectURI},
		"response_type":         {"code"},
		"code_challenge":        {p.pkce.Challenge},
		"code_challenge_method": {p.pkce.ChallengeMethod},
		"state":                 {p.state},
	}
	if p.scope != "" {
		query.Set("scope", p.scope)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (a *Authorizer) redirectURI() string {
	return "http://" + a.callbackAddr + a.callbackPath
}

func generatePKCEParams() *authhandler.PKCEParams {
	verifier := randomString(32)
	sha := sha256.Sum256([]byte(verifier))
	challenge := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sha[:])
	return &authhandler.PKCEParams{
		Challenge:       challenge,
		ChallengeMethod: "S256",
		Verifier:        verifier,
	}
}

func randomString(n int) string {
	data := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		panic(err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(data)
}

func expiresAt(expiresIn int64) int64 {
	if expiresIn <= 0 {
		return 0
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second).Unix()
}

// registrationRequest is the RFC 7591 dynamic client registration payload.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (a *Authorizer) registerClient(ctx context.Context, endpoints *serverEndpoints, server string) (string, string, error) {
	if endpoints.RegistrationEndpoint == "" {
		return "", "", errors.New("server does not advertise a registration endpoint")
	}

	payload, err := json.Marshal(registrationRequest{
		ClientName:              "quill",
		RedirectURIs:            []string{a.redirectURI()},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	})
	if err != nil {
		return "", "", errors.Wrap(err, "failed to encode registration request")
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", "", errors.Wrap(err, "failed to create registration request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", "", errors.Wrap(err, "registration request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to read registration response")
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("registration endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var reg registrationResponse
	if err := json.Unmarshal(body, &reg); err != nil {
		return "", "", errors.Wrap(err, "failed to parse registration response")
	}
	if reg.ClientID == "" {
		return "", "", errors.New("registration response missing client_id")
	}

	logger.G(ctx).WithField("server", server).Info("registered OAuth client")
	return reg.ClientID, reg.ClientSecret, nil
}

// serverEndpoints are the OAuth endpoints advertised by a server.
type serverEndpoints struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint"`
}

// discoverEndpoints fetches the RFC 8414 authorization server metadata,
// falling back to conventional /authorize and /token paths when the server
// does not publish it.
func (a *Authorizer) discoverEndpoints(ctx context.Context, serverURL string) (*serverEndpoints, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse server URL")
	}

	wellKnown := *base
	wellKnown.Path = "/.well-known/oauth-authorization-server"
	wellKnown.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discovery request")
	}

	resp, err := a.httpClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var endpoints serverEndpoints
			if decodeErr := json.NewDecoder(resp.Body).Decode(&endpoints); decodeErr == nil &&
				endpoints.AuthorizationEndpoint != "" && endpoints.TokenEndpoint != "" {
				return &endpoints, nil
			}
		}
	}

	origin := *base
	origin.Path = ""
	origin.RawQuery = ""
	return &serverEndpoints{
		AuthorizationEndpoint: origin.String() + "/authorize",
		TokenEndpoint:         origin.String() + "/token",
	}, nil
}
