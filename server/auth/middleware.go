package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/conversia-ai/conversia/internal/errdef"
)

// TenantHeader names the header carrying the acting tenant for user tokens.
const TenantHeader = "X-TENANT-ID"

// apiKeyPrefix marks bearer credentials that are tenant API keys rather
// than session tokens.
const apiKeyPrefix = "cnv_"

// Middleware authenticates every request and attaches the principal.
// Requests without a usable credential get 401.
func Middleware(a *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
			}

			var (
				principal *Principal
				err       error
			)
			if strings.HasPrefix(token, apiKeyPrefix) {
				principal, err = a.AuthenticateAPIKey(c.Request().Context(), token)
			} else {
				tenantID := c.Request().Header.Get(TenantHeader)
				principal, err = a.AuthenticateUser(c.Request().Context(), token, tenantID)
			}
			if err != nil {
				// A valid token for the wrong tenant is a permission
				// problem, not a credential problem.
				if errors.Is(err, errdef.ErrNotAMember) {
					return err
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed").SetInternal(err)
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), principal)))
			return next(c)
		}
	}
}

// RequireScope guards a route group with one scope.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFrom(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !p.HasScope(scope) {
				return echo.NewHTTPError(http.StatusForbidden, "missing scope "+scope)
			}
			return next(c)
		}
	}
}

// RateLimiter applies a per-caller token bucket. Callers are keyed by
// authenticated user when present, by remote IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter of rps requests per second with the
// given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: map[string]*rate.Limiter{},
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l
}

// Middleware rejects callers over their budget with 429 and a Retry-After
// hint.
func (r *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if p := PrincipalFrom(c.Request().Context()); p != nil {
				key = p.TenantID + "|" + p.UserID
			}
			if !r.limiter(key).Allow() {
				c.Response().Header().Set("Retry-After", retryAfter(r.limit))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// retryAfter is the whole-second refill interval, floored at one second.
func retryAfter(limit rate.Limit) string {
	if limit <= 0 {
		return "1"
	}
	secs := int(time.Duration(float64(time.Second) / float64(limit)).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
