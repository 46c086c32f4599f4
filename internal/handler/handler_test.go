package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/auth"
	"github.com/sakif/codeshelf/internal/handler"
	"github.com/sakif/codeshelf/internal/live"
	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/repository/sqlite"
	"github.com/sakif/codeshelf/internal/service"
)

// =========================================================================
// FIXTURE
// =========================================================================

// fakeExplainer records the last call and returns reply or err.
type fakeExplainer struct {
	code, language string
	reply          string
	err            error
}

func (f *fakeExplainer) Explain(_ context.Context, code, language string) (string, error) {
	f.code, f.language = code, language
	return f.reply, f.err
}

type fixture struct {
	router    http.Handler
	tokens    *auth.TokenService
	snippets  *service.SnippetService
	explainer *fakeExplainer
	db        *sqlite.DB
}

var (
	ada   = auth.Identity{UserID: "u-ada", Name: "ada"}
	grace = auth.Identity{UserID: "u-grace", Name: "grace"}
)

// newFixture wires real services over in-memory SQLite behind a chi router
// with the same routes and auth middleware as the server.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broker := live.NewBroker()
	db, err := sqlite.New(":memory:", sqlite.WithPublisher(broker), sqlite.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() {
		broker.Close()
		db.Close()
	})

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	snippets := service.NewSnippetService(db, broker, logger)
	authSvc := service.NewAuthService(db, tokens, auth.NewPasswordServiceWithCost(bcrypt.MinCost), logger)
	explainer := &fakeExplainer{reply: "It adds numbers."}

	sh := handler.NewSnippetHandler(snippets, logger)
	ah := handler.NewAuthHandler(nil, authSvc, tokens.TTL(), false, logger)
	eh := handler.NewExplainHandler(explainer, 0, logger)
	hh := handler.NewHealthHandler(db, "test", logger)

	r := chi.NewRouter()
	r.Get("/health", hh.HandleHealth)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", ah.HandleGitHubLogin)
		r.Post("/register", ah.HandleRegister)
		r.Post("/login", ah.HandleLogin)
		r.Post("/logout", ah.HandleLogout)
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/explain", eh.HandleExplain)
		r.Get("/languages", sh.HandleLanguages)
		r.Get("/frameworks", sh.HandleFrameworks)
		r.Get("/tags", sh.HandleTags)
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/snippets", sh.HandleList)
			r.Get("/snippets/stream", sh.HandleStream)
			r.Get("/snippets/{id}", sh.HandleGetByID)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", ah.HandleMe)
			r.Post("/snippets", sh.HandleCreate)
			r.Patch("/snippets/{id}", sh.HandleUpdate)
			r.Delete("/snippets/{id}", sh.HandleDelete)
		})
	})

	return &fixture{router: r, tokens: tokens, snippets: snippets, explainer: explainer, db: db}
}

func (f *fixture) do(t *testing.T, method, path string, as *auth.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := f.tokens.Generate(*as)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, as auth.Identity, draft map[string]any) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/snippets", &as, draft)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func titlesOf(snippets []model.Snippet) []string {
	out := make([]string, len(snippets))
	for i, s := range snippets {
		out[i] = s.Title
	}
	return out
}

func draft(title, language string, extra ...func(map[string]any)) map[string]any {
	d := map[string]any{"title": title, "code": "x := 1", "language": language}
	for _, fn := range extra {
		fn(d)
	}
	return d
}

// =========================================================================
// SNIPPETS
// =========================================================================

func TestCreate_RequiresSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/snippets", nil, draft("t", "Go"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreate_ValidationError(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/snippets", &ada, map[string]any{"title": "no code", "language": "Go"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[handler.ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", body.Error)
	assert.Contains(t, body.Message, "code")
}

func TestCreate_MalformedJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/snippets", &ada, `{"title":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[handler.ErrorResponse](t, rec).Error)
}

func TestCreateThenGet(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, ada, draft("Hello", "Go", func(d map[string]any) {
		d["tags"] = []string{"basics"}
	}))

	rec := f.do(t, http.MethodGet, "/api/snippets/"+id, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Snippet](t, rec)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "ada", got.Author)
	assert.Equal(t, "u-ada", got.UserID)
	assert.Equal(t, []string{"basics"}, got.Tags)
	assert.True(t, got.IsPublic)
	assert.Nil(t, got.Framework)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/snippets/missing", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, rec).Error)
}

func TestList_FiltersAndSorts(t *testing.T) {
	f := newFixture(t)
	f.create(t, ada, draft("beta", "Go", func(d map[string]any) { d["tags"] = []string{"cli"} }))
	f.create(t, ada, draft("alpha", "Go", func(d map[string]any) { d["tags"] = []string{"cli", "web"} }))
	f.create(t, ada, draft("gamma", "Python", func(d map[string]any) { d["tags"] = []string{"cli"} }))

	rec := f.do(t, http.MethodGet, "/api/snippets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, titlesOf(decode[[]model.Snippet](t, rec)), "newest first")

	rec = f.do(t, http.MethodGet, "/api/snippets?language=Go&tag=cli&sort=titleAZ", nil, nil)
	assert.Equal(t, []string{"alpha", "beta"}, titlesOf(decode[[]model.Snippet](t, rec)))

	rec = f.do(t, http.MethodGet, "/api/snippets?tag=web&sort=bogus", nil, nil)
	assert.Equal(t, []string{"alpha"}, titlesOf(decode[[]model.Snippet](t, rec)))
}

func TestList_EmptyIsArray(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/snippets?language=COBOL", nil, nil)

	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdate_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, ada, draft("mine", "Go"))

	rec := f.do(t, http.MethodPatch, "/api/snippets/"+id, &grace, map[string]any{"title": "stolen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[handler.ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPatch, "/api/snippets/"+id, &ada, map[string]any{"title": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", decode[model.Snippet](t, rec).Title)
}

func TestUpdate_FrameworkNullClears(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, ada, draft("web", "Go", func(d map[string]any) { d["framework"] = "Gin" }))

	rec := f.do(t, http.MethodPatch, "/api/snippets/"+id, &ada, `{"title":"kept framework"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Snippet](t, rec)
	require.NotNil(t, got.Framework)
	assert.Equal(t, "Gin", *got.Framework)

	rec = f.do(t, http.MethodPatch, "/api/snippets/"+id, &ada, `{"framework":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[model.Snippet](t, rec).Framework)

	rec = f.do(t, http.MethodPatch, "/api/snippets/"+id, &ada, `{"framework":42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate_MissingIsNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/snippets/nope", &ada, map[string]any{"title": "x"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, ada, draft("bye", "Go"))

	rec := f.do(t, http.MethodDelete, "/api/snippets/"+id, &grace, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/snippets/"+id, &ada, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/snippets/"+id, &ada, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "deleting twice is not an error")

	rec = f.do(t, http.MethodGet, "/api/snippets/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFacets(t *testing.T) {
	f := newFixture(t)
	f.create(t, ada, draft("a", "Go", func(d map[string]any) {
		d["framework"] = "Gin"
		d["tags"] = []string{"web", "api"}
	}))
	f.create(t, ada, draft("b", "Python", func(d map[string]any) { d["tags"] = []string{"api"} }))

	assert.JSONEq(t, `["Go","Python"]`, f.do(t, http.MethodGet, "/api/languages", nil, nil).Body.String())
	assert.JSONEq(t, `["Gin"]`, f.do(t, http.MethodGet, "/api/frameworks", nil, nil).Body.String())
	assert.JSONEq(t, `["api","web"]`, f.do(t, http.MethodGet, "/api/tags", nil, nil).Body.String())
}

func TestFacets_EmptyIsArray(t *testing.T) {
	f := newFixture(t)

	assert.JSONEq(t, `[]`, f.do(t, http.MethodGet, "/api/frameworks", nil, nil).Body.String())
}

// =========================================================================
// SSE
// =========================================================================

// readEvent returns the data line of the next "snippets" event.
func readEvent(t *testing.T, events <-chan string) []model.Snippet {
	t.Helper()
	select {
	case data := <-events:
		var snippets []model.Snippet
		require.NoError(t, json.Unmarshal([]byte(data), &snippets))
		return snippets
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for SSE event")
		return nil
	}
}

func TestStream_DeliversInitialAndUpdates(t *testing.T) {
	f := newFixture(t)
	f.create(t, ada, draft("first", "Go"))

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/snippets/stream?language=Go", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var name string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && name == "snippets":
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	assert.Equal(t, []string{"first"}, titlesOf(readEvent(t, events)))

	f.create(t, ada, draft("second", "Go"))
	assert.Equal(t, []string{"second", "first"}, titlesOf(readEvent(t, events)))
}

// =========================================================================
// EXPLAIN
// =========================================================================

func TestExplain(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/explain", nil, map[string]string{"code": "1+1", "language": "Python"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"explanation":"It adds numbers."}`, rec.Body.String())
	assert.Equal(t, "1+1", f.explainer.code)
	assert.Equal(t, "Python", f.explainer.language)
}

func TestExplain_LanguageIsOptional(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/explain", nil, map[string]string{"code": "1+1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", f.explainer.language)
}

func TestExplain_BadRequests(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]string{
		"missing code": `{"language":"Go"}`,
		"blank code":   `{"code":"   "}`,
		"not JSON":     `code=1`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/explain", nil, body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var out map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.NotEmpty(t, out["error"])
			assert.NotContains(t, out, "success")
		})
	}
}

func TestExplain_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.explainer.err = apperror.Upstream("failed to generate explanation", errors.New("sk-secret rejected"))

	rec := f.do(t, http.MethodPost, "/api/explain", nil, map[string]string{"code": "x"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Failed to generate explanation", out["error"])
	assert.Equal(t, "failed to generate explanation", out["details"])
	assert.NotContains(t, rec.Body.String(), "sk-secret")
}

// =========================================================================
// AUTH
// =========================================================================

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

func TestRegisterLoginMe(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", nil, map[string]string{
		"email": "ada@example.com", "password": "analytical", "login": "ada",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.NotContains(t, rec.Body.String(), "$2", "password hash must never be serialised")

	rec = f.do(t, http.MethodPost, "/auth/login", nil, map[string]string{"email": "ada@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", nil, map[string]string{"email": "ADA@example.com", "password": "analytical"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie = sessionCookie(rec)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	f.router.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "ada", decode[model.User](t, me).Login)
}

func TestRegister_DuplicateEmailIsConflict(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"email": "dup@example.com", "password": "long-enough"}

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/auth/register", nil, body).Code)
	rec := f.do(t, http.MethodPost, "/auth/register", nil, body)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/logout", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestGitHubLogin_DisabledIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/github/login", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =========================================================================
// HEALTH
// =========================================================================

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())

	f.db.Close()
	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
