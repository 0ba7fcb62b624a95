// Package auth authenticates admin API requests (bearer JWT or tenant API
// key), resolves the acting tenant, and enforces per-route scopes.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
	"github.com/conversia-ai/conversia/store/cache"
)

// Scope names gate admin API routes.
const (
	ScopeConversationsRead  = "conversations:view"
	ScopeConversationsWrite = "conversations:write"
	ScopeHandoffPerform     = "handoff:perform"
	ScopeCustomersRead      = "customers:view"
	ScopeCustomersExport    = "customers:export"
	ScopeKnowledgeManage    = "knowledge:manage"
	ScopeCatalogManage      = "catalog:manage"
	ScopeCampaignsManage    = "campaigns:manage"
	ScopeSettingsManage     = "settings:manage"
	ScopeUsersManage        = "users:manage"
)

// roleScopes maps a tenant member role to its granted scopes.
var roleScopes = map[store.TenantMemberRole][]string{
	store.TenantMemberRoleOwner: {
		ScopeConversationsRead, ScopeConversationsWrite, ScopeHandoffPerform,
		ScopeCustomersRead, ScopeCustomersExport,
		ScopeKnowledgeManage, ScopeCatalogManage, ScopeCampaignsManage,
		ScopeSettingsManage, ScopeUsersManage,
	},
	store.TenantMemberRoleOperator: {
		ScopeConversationsRead, ScopeConversationsWrite, ScopeHandoffPerform,
		ScopeCustomersRead, ScopeCustomersExport,
		ScopeKnowledgeManage, ScopeCatalogManage, ScopeCampaignsManage,
	},
	store.TenantMemberRoleViewer: {
		ScopeConversationsRead, ScopeCustomersRead,
	},
}

// ScopesForRole returns a copy of the role's scope grant.
func ScopesForRole(role store.TenantMemberRole) []string {
	scopes := roleScopes[role]
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}

// Principal is the authenticated caller bound to one tenant.
type Principal struct {
	UserID   string
	TenantID string
	Role     store.TenantMemberRole
	Scopes   []string

	// APIKeyID is set when the request authenticated with a tenant API key
	// instead of a user token.
	APIKeyID string
}

// HasScope reports whether the principal may use the scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal attaches the principal to the request context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the request's principal, or nil for anonymous.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Claims is the JWT payload for user session tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// DefaultTokenTTL is how long issued session tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// IssueToken signs a session token for the user.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// VerifyToken parses a session token and returns the user id.
func VerifyToken(secret, tokenString string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", errors.Wrap(err, "invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// apiKeyPrefixLen is how many plaintext characters are stored for display.
const apiKeyPrefixLen = 8

// GenerateAPIKey mints a new tenant API key. The plaintext is shown once;
// only the SHA-256 hash and the display prefix are stored.
func GenerateAPIKey() (plaintext, prefix, hashHex string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", errors.Wrap(err, "failed to generate api key")
	}
	plaintext = "cnv_" + hex.EncodeToString(buf)
	return plaintext, plaintext[:apiKeyPrefixLen], HashAPIKey(plaintext), nil
}

// HashAPIKey returns the stored hex digest of a plaintext key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Store is the auth layer's slice of the data layer. *store.Store satisfies
// it.
type Store interface {
	ListAPIKeys(ctx context.Context, find *store.FindAPIKey) ([]*store.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedTs int64) error
	GetTenantMember(ctx context.Context, find *store.FindTenantMember) (*store.TenantMember, error)
	GetTenant(ctx context.Context, find *store.FindTenant) (*store.Tenant, error)
	ScopeCache() *cache.Versioned
}

// Authenticator resolves bearer credentials into principals.
type Authenticator struct {
	store  Store
	secret string
	nowTs  func() int64
}

// NewAuthenticator creates an authenticator signing and verifying with the
// process secret.
func NewAuthenticator(st Store, secret string) *Authenticator {
	return &Authenticator{store: st, secret: secret, nowTs: store.NowTs}
}

// AuthenticateAPIKey resolves a tenant API key into a principal carrying the
// owning tenant's operator scopes. The key's last-used timestamp is touched
// best-effort.
func (a *Authenticator) AuthenticateAPIKey(ctx context.Context, plaintext string) (*Principal, error) {
	hash := HashAPIKey(plaintext)
	keys, err := a.store.ListAPIKeys(ctx, &store.FindAPIKey{HashHex: &hash})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up api key")
	}
	if len(keys) == 0 {
		return nil, errors.New("unknown api key")
	}
	key := keys[0]

	_ = a.store.TouchAPIKey(ctx, key.ID, a.nowTs())

	return &Principal{
		UserID:   key.CreatorID,
		TenantID: key.TenantID,
		Role:     store.TenantMemberRoleOperator,
		Scopes:   ScopesForRole(store.TenantMemberRoleOperator),
		APIKeyID: key.ID,
	}, nil
}

// AuthenticateUser verifies a session token and resolves the user's
// membership in the requested tenant. Role scopes are cached per (tenant,
// user) through the store's versioned scope cache.
func (a *Authenticator) AuthenticateUser(ctx context.Context, token, tenantID string) (*Principal, error) {
	userID, err := VerifyToken(a.secret, token)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, errors.New("tenant header is required")
	}

	role, err := a.memberRole(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	return &Principal{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		Scopes:   ScopesForRole(role),
	}, nil
}

type cachedMembership struct {
	Role store.TenantMemberRole `json:"role"`
}

func (a *Authenticator) memberRole(ctx context.Context, tenantID, userID string) (store.TenantMemberRole, error) {
	scopeCache := a.store.ScopeCache()

	var key string
	if scopeCache != nil {
		key = scopeCache.Key(ctx, tenantID, "member", userID)
		var cached cachedMembership
		if scopeCache.GetJSON(ctx, key, &cached) && cached.Role != "" {
			return cached.Role, nil
		}
	}

	member, err := a.store.GetTenantMember(ctx, &store.FindTenantMember{
		TenantID: tenantID,
		UserID:   &userID,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve tenant membership")
	}
	if member == nil {
		return "", errors.Wrap(errdef.ErrNotAMember, "no membership")
	}

	if scopeCache != nil {
		scopeCache.SetJSON(ctx, key, cachedMembership{Role: member.Role})
	}
	return member.Role, nil
}
