package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub serves the token and /user endpoints of the OAuth flow.
func fakeGitHub(t *testing.T, user GitHubUser) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_test", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(srv *httptest.Server) *GitHubProvider {
	return NewGitHubProvider("client-id", "client-secret", "http://localhost/auth/github/callback").
		withEndpoints(srv.URL+"/login/oauth/authorize", srv.URL+"/login/oauth/access_token", srv.URL+"/user")
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost/cb")

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
}

func TestGitHubProvider_Enabled(t *testing.T) {
	assert.True(t, NewGitHubProvider("id", "secret", "").Enabled())
	assert.False(t, NewGitHubProvider("", "", "").Enabled())

	var nilProvider *GitHubProvider
	assert.False(t, nilProvider.Enabled())
}

func TestGitHubProvider_Exchange(t *testing.T) {
	srv := fakeGitHub(t, GitHubUser{ID: 42, Login: "octocat", Email: "octo@example.com"})
	p := newTestProvider(srv)

	got, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "octocat", got.Login)
}

func TestGitHubProvider_ExchangeBadCode(t *testing.T) {
	srv := fakeGitHub(t, GitHubUser{ID: 42, Login: "octocat"})
	p := newTestProvider(srv)

	_, err := p.Exchange(context.Background(), "stolen-code")
	assert.Error(t, err)
}

func TestGitHubProvider_RejectsZeroID(t *testing.T) {
	srv := fakeGitHub(t, GitHubUser{Login: "ghost"})
	p := newTestProvider(srv)

	_, err := p.Exchange(context.Background(), "good-code")
	assert.ErrorContains(t, err, "invalid user")
}
