package remote

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// NewTokenClient returns an HTTP client that sends a static bearer token.
func NewTokenClient(ctx context.Context, token string) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// appTokenSource exchanges a GitHub App JWT for an installation token.
type appTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	baseURL        string
	httpClient     *http.Client
	now            func() time.Time
}

// NewAppTokenSource returns a caching token source for a GitHub App
// installation. pemKey is the App's RSA private key.
func NewAppTokenSource(appID, installationID int64, pemKey []byte, baseURL string) (oauth2.TokenSource, error) {
	if appID == 0 || installationID == 0 {
		return nil, errors.New("github app id and installation id are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse github app key: %w", err)
	}
	src := &appTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        baseURL,
		httpClient:     http.DefaultClient,
		now:            time.Now,
	}
	return oauth2.ReuseTokenSource(nil, src), nil
}

func (s *appTokenSource) signedJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	signed, err := s.signedJWT()
	if err != nil {
		return nil, fmt.Errorf("sign github app jwt: %w", err)
	}
	client := github.NewClient(s.httpClient).WithAuthToken(signed)
	if s.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(s.baseURL, "/") + "/")
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}
	tok, _, err := client.Apps.CreateInstallationToken(context.Background(), s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("create installation token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: tok.GetToken(),
		TokenType:   "Bearer",
		Expiry:      tok.GetExpiresAt().Time,
	}, nil
}
