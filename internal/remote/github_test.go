package remote

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	sha     string
	content []byte
}

// fakeContentsAPI emulates the parts of the GitHub contents API the syncer uses.
type fakeContentsAPI struct {
	mu       sync.Mutex
	files    map[string]fakeFile
	puts     int
	failPuts bool
	token    string
}

func newFakeContentsAPI() *fakeContentsAPI {
	return &fakeContentsAPI{files: map[string]fakeFile{}}
}

func (f *fakeContentsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		return
	}
	const prefix = "/repos/lab/results/contents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	p := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		file, ok := f.files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"type": "file", "path": p, "sha": file.sha})
	case http.MethodPut:
		f.puts++
		if f.failPuts {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream unavailable"}`))
			return
		}
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		existing, ok := f.files[p]
		if ok && body.SHA != existing.sha {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"sha mismatch"}`))
			return
		}
		raw, _ := base64.StdEncoding.DecodeString(body.Content)
		sha := fmt.Sprintf("sha-%d", f.puts)
		f.files[p] = fakeFile{sha: sha, content: raw}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]any{"path": p, "sha": sha}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestSyncer(t *testing.T, api *fakeContentsAPI) *GitHubSyncer {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client := srv.Client()
	if api.token != "" {
		client = NewTokenClient(context.Background(), api.token)
	}
	s, err := NewGitHubSyncer(client, GitHubConfig{Owner: "lab", Repo: "results", Branch: "main", BaseURL: srv.URL})
	require.NoError(t, err)
	return s
}

func TestGitHubSyncerCreatesThenUpdates(t *testing.T) {
	api := newFakeContentsAPI()
	api.token = "ghp_test"
	s := newTestSyncer(t, api)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "results/full_run/p1_trial_0.json", []byte(`{"a":1}`), "first"))
	require.NoError(t, s.Put(ctx, "results/full_run/p1_trial_0.json", []byte(`{"a":2}`), "second"))

	assert.Equal(t, 2, api.puts)
	assert.JSONEq(t, `{"a":2}`, string(api.files["results/full_run/p1_trial_0.json"].content))
}

func TestGitHubSyncerReportsFailure(t *testing.T) {
	api := newFakeContentsAPI()
	api.failPuts = true
	s := newTestSyncer(t, api)
	err := s.Put(context.Background(), "results/x.json", []byte(`{}`), "msg")
	require.Error(t, err)
	assert.Equal(t, 1, api.puts, "no retries")
}

func TestNewGitHubSyncerRequiresRepo(t *testing.T) {
	_, err := NewGitHubSyncer(nil, GitHubConfig{Owner: "lab"})
	assert.Error(t, err)
}

func TestAppTokenSourceExchangesJWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/app/installations/42/access_tokens", r.URL.Path)
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil })
		assert.NoError(t, err)
		assert.Equal(t, "7", claims.Issuer)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_installation",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	src, err := NewAppTokenSource(7, 42, pemKey, srv.URL)
	require.NoError(t, err)
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", tok.AccessToken)

	_, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "token is reused until it expires")
}

func TestNewAppTokenSourceRejectsBadKey(t *testing.T) {
	_, err := NewAppTokenSource(1, 2, []byte("nope"), "")
	assert.Error(t, err)
	_, err = NewAppTokenSource(0, 2, nil, "")
	assert.Error(t, err)
}
