package provider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/clinicore/migration/pkg/common/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Session holds the mutable auth state one provider instance carries across
// calls (cookie, CSRF token, bearer token). It is owned by the provider and
// re-established deterministically when the source reports 401/403.
type Session struct {
	mu            sync.Mutex
	Cookie        string
	CSRFToken     string
	BearerToken   string
	EstablishedAt time.Time
}

func (s *Session) Set(cookie, csrf, bearer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cookie = cookie
	s.CSRFToken = csrf
	s.BearerToken = bearer
	s.EstablishedAt = time.Now().UTC()
}

func (s *Session) Clear() {
	s.Set("", "", "")
}

// HTTPClient builds the client a provider uses against the vendor API. When
// the credentials carry an OAuth2 client id/secret and token URL, token
// acquisition and refresh ride on the client-credentials flow; otherwise a
// plain client is returned and the provider attaches its own API key header.
func HTTPClient(ctx context.Context, creds Credentials, timeout time.Duration) *http.Client {
	if creds.ClientID != "" && creds.TokenURL != "" {
		cfg := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
		}
		base := &http.Client{Timeout: timeout}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		return cfg.Client(ctx)
	}
	return &http.Client{Timeout: timeout}
}

// Authenticator re-establishes a provider session from credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) error
}

// FetchWithReauth runs fetch once; on a session-expiry class error it
// re-authenticates and retries exactly once. Any other error surfaces as-is.
func FetchWithReauth(ctx context.Context, auth Authenticator, creds Credentials, fetch func() (Page, error)) (Page, error) {
	page, err := fetch()
	if err == nil {
		return page, nil
	}
	if !errors.Is(err, ErrSessionExpired) {
		return Page{}, err
	}

	logger.Log.WithError(err).Warn("source session expired, re-authenticating")
	if auth != nil {
		if authErr := auth.Authenticate(ctx, creds); authErr != nil {
			return Page{}, authErr
		}
	}
	return fetch()
}
