package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
	"github.com/conversia-ai/conversia/store/cache"
)

type fakeStore struct {
	keys        []*store.APIKey
	member      *store.TenantMember
	memberCalls int
	touched     []string
	scopeCache  *cache.Versioned
}

func (f *fakeStore) ListAPIKeys(_ context.Context, find *store.FindAPIKey) ([]*store.APIKey, error) {
	var out []*store.APIKey
	for _, k := range f.keys {
		if find.HashHex == nil || k.HashHex == *find.HashHex {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) TouchAPIKey(_ context.Context, id string, _ int64) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeStore) GetTenantMember(_ context.Context, _ *store.FindTenantMember) (*store.TenantMember, error) {
	f.memberCalls++
	return f.member, nil
}

func (f *fakeStore) GetTenant(_ context.Context, _ *store.FindTenant) (*store.Tenant, error) {
	return &store.Tenant{ID: "t1"}, nil
}

func (f *fakeStore) ScopeCache() *cache.Versioned {
	return f.scopeCache
}

func newFakeStore() *fakeStore {
	backend := cache.New(cache.Config{DefaultTTL: time.Minute})
	return &fakeStore{
		member:     &store.TenantMember{TenantID: "t1", UserID: "u1", Role: store.TenantMemberRoleOperator},
		scopeCache: cache.NewVersioned(backend, "scopes", time.Minute),
	}
}

func TestTokenRoundtrip(t *testing.T) {
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	userID, err := VerifyToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken("other", token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	token, err := IssueToken("secret", "u1", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken("secret", token)
	assert.Error(t, err)
}

func TestGenerateAPIKeyShape(t *testing.T) {
	plaintext, prefix, hashHex, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, len(plaintext) > 20)
	assert.Equal(t, plaintext[:8], prefix)
	assert.Equal(t, HashAPIKey(plaintext), hashHex)
	assert.Contains(t, plaintext, "cnv_")
}

func TestAuthenticateAPIKey(t *testing.T) {
	st := newFakeStore()
	plaintext, prefix, hashHex, err := GenerateAPIKey()
	require.NoError(t, err)
	st.keys = []*store.APIKey{{
		ID: "k1", TenantID: "t1", Prefix: prefix, HashHex: hashHex, CreatorID: "u1",
	}}

	a := NewAuthenticator(st, "secret")
	p, err := a.AuthenticateAPIKey(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, "k1", p.APIKeyID)
	assert.True(t, p.HasScope(ScopeConversationsWrite))
	assert.False(t, p.HasScope(ScopeUsersManage))
	assert.Equal(t, []string{"k1"}, st.touched)

	_, err = a.AuthenticateAPIKey(context.Background(), "cnv_unknown")
	assert.Error(t, err)
}

func TestAuthenticateUserResolvesMembership(t *testing.T) {
	st := newFakeStore()
	a := NewAuthenticator(st, "secret")
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	p, err := a.AuthenticateUser(context.Background(), token, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, store.TenantMemberRoleOperator, p.Role)
	assert.True(t, p.HasScope(ScopeHandoffPerform))

	// Second resolution comes from the scope cache.
	_, err = a.AuthenticateUser(context.Background(), token, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.memberCalls)
}

func TestAuthenticateUserRequiresTenantHeader(t *testing.T) {
	st := newFakeStore()
	a := NewAuthenticator(st, "secret")
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	_, err = a.AuthenticateUser(context.Background(), token, "")
	assert.Error(t, err)
}

func TestAuthenticateUserRejectsNonMember(t *testing.T) {
	st := newFakeStore()
	st.member = nil
	a := NewAuthenticator(st, "secret")
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	_, err = a.AuthenticateUser(context.Background(), token, "t1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdef.ErrNotAMember))
}

func TestMiddlewarePassesNonMemberThrough(t *testing.T) {
	st := newFakeStore()
	st.member = nil
	a := NewAuthenticator(st, "secret")
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	handler := Middleware(a)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set(TenantHeader, "t1")
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	require.Error(t, err)

	// The sentinel must survive so the error handler can answer 403
	// instead of the blanket 401.
	_, isHTTP := err.(*echo.HTTPError)
	assert.False(t, isHTTP)
	assert.True(t, errors.Is(err, errdef.ErrNotAMember))
}

func TestMiddlewareAttachesPrincipal(t *testing.T) {
	st := newFakeStore()
	a := NewAuthenticator(st, "secret")
	token, err := IssueToken("secret", "u1", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	handler := Middleware(a)(func(c echo.Context) error {
		p := PrincipalFrom(c.Request().Context())
		require.NotNil(t, p)
		return c.String(http.StatusOK, p.TenantID)
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set(TenantHeader, "t1")
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, "t1", rec.Body.String())
}

func TestMiddlewareRejectsMissingCredential(t *testing.T) {
	st := newFakeStore()
	a := NewAuthenticator(st, "secret")

	e := echo.New()
	handler := Middleware(a)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestViewScopeNames(t *testing.T) {
	assert.Equal(t, "conversations:view", ScopeConversationsRead)
	assert.Equal(t, "customers:view", ScopeCustomersRead)

	viewer := ScopesForRole(store.TenantMemberRoleViewer)
	assert.Contains(t, viewer, ScopeConversationsRead)
	assert.Contains(t, viewer, ScopeCustomersRead)
}

func TestRequireScope(t *testing.T) {
	e := echo.New()
	handler := RequireScope(ScopeUsersManage)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	viewer := &Principal{Scopes: ScopesForRole(store.TenantMemberRoleViewer)}
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(WithPrincipal(req.Context(), viewer))
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)

	owner := &Principal{Scopes: ScopesForRole(store.TenantMemberRoleOwner)}
	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(WithPrincipal(req.Context(), owner))
	assert.NoError(t, handler(e.NewContext(req, httptest.NewRecorder())))
}

func TestRateLimiterReturns429(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	e := echo.New()
	handler := rl.Middleware()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	newCtx := func() (echo.Context, *httptest.ResponseRecorder) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		return e.NewContext(req, rec), rec
	}

	ctx, _ := newCtx()
	require.NoError(t, handler(ctx))

	ctx, rec := newCtx()
	err := handler(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
