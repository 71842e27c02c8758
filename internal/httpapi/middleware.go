// Package httpapi wires the Permission & Namespace Service, Commit
// Pipeline, LFS Subsystem, Garbage Collector, Git Bridge, and Repository
// Lifecycle into three protocol surfaces: the HuggingFace JSON/NDJSON
// API, Git Smart HTTP + Git LFS, and a thin admin/metrics surface.
// Middleware is registered via echo.Echo.Use closures: IdentityMiddleware
// verifies bearer tokens with jwx against a cached JWKS, and the admin
// surface uses a constant-time admin-token comparison. This module never issues
// tokens; it only validates bearer tokens minted by an external OIDC
// provider.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"

	"github.com/kohakuhub/kohakuhub/internal/hublog"
	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
)

const identityContextKey = "kohaku.identity"

// IdentityVerifier validates bearer tokens minted by the external auth
// collaborator and resolves the subject claim to a Metadata Store user.
// When OIDCIssuerURL is unset (e.g. local/dev deployments fronted by a
// reverse proxy that injects a trusted header instead), every request is
// treated as anonymous unless a session is otherwise established.
type IdentityVerifier struct {
	store   *metadata.Store
	jwksURL string
	cache   *jwk.Cache
}

// NewIdentityVerifier discovers issuerURL's OIDC metadata (via go-oidc) to
// find its JWKS endpoint, then registers that endpoint with a jwx
// background-refreshing cache so bearer-token verification never blocks on
// a network round trip per request.
func NewIdentityVerifier(ctx context.Context, issuerURL string, jwksCacheTTL time.Duration, store *metadata.Store) (*IdentityVerifier, error) {
	if issuerURL == "" {
		return &IdentityVerifier{store: store}, nil
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("httpapi: discovering oidc issuer %s: %w", issuerURL, err)
	}
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("httpapi: reading oidc discovery document: %w", err)
	}
	if jwksCacheTTL <= 0 {
		jwksCacheTTL = time.Hour
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(discovery.JWKSURI, jwk.WithMinRefreshInterval(jwksCacheTTL)); err != nil {
		return nil, fmt.Errorf("httpapi: registering jwks cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, discovery.JWKSURI); err != nil {
		return nil, fmt.Errorf("httpapi: priming jwks cache: %w", err)
	}
	return &IdentityVerifier{store: store, jwksURL: discovery.JWKSURI, cache: cache}, nil
}

func (iv *IdentityVerifier) enabled() bool { return iv.cache != nil }

// Resolve parses and verifies a raw bearer token, returning the
// permission.Identity it maps to. The token's subject claim is treated as
// the username; a subject with no matching Metadata Store user resolves to
// anonymous rather than erroring, since account provisioning happens in
// the external auth collaborator and may race a first request.
func (iv *IdentityVerifier) Resolve(ctx context.Context, rawToken string) (permission.Identity, error) {
	if !iv.enabled() || rawToken == "" {
		return permission.Identity{Anonymous: true}, nil
	}
	set, err := iv.cache.Get(ctx, iv.jwksURL)
	if err != nil {
		return permission.Identity{}, fmt.Errorf("httpapi: fetching jwks: %w", err)
	}
	tok, err := jwt.Parse([]byte(rawToken), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return permission.Identity{}, huberr.BadRequest("invalid or expired bearer token")
	}
	username := tok.Subject()
	if username == "" {
		return permission.Identity{Anonymous: true}, nil
	}
	user, err := iv.store.FindUserByUsername(ctx, username)
	if err != nil {
		return permission.Identity{Anonymous: true}, nil
	}
	roles, err := permission.LoadOrgRoles(ctx, iv.store.DB, user.ID)
	if err != nil {
		return permission.Identity{}, err
	}
	return permission.Identity{UserID: user.ID, OrgRoles: roles}, nil
}

// IdentityMiddleware extracts "Authorization: Bearer <token>", resolves it
// to a permission.Identity (anonymous when absent or unverifiable), and
// stores it on the Echo context for handlers to read via IdentityFromContext.
func IdentityMiddleware(iv *IdentityVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			identity, err := iv.Resolve(c.Request().Context(), raw)
			if err != nil {
				identity = permission.Identity{Anonymous: true}
			}
			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// IdentityFromContext reads the identity IdentityMiddleware attached.
func IdentityFromContext(c echo.Context) permission.Identity {
	if v, ok := c.Get(identityContextKey).(permission.Identity); ok {
		return v
	}
	return permission.Identity{Anonymous: true}
}

// AdminMiddleware guards the admin/metrics surface with a single shared
// secret token — intentionally simpler than the bearer-JWT path since
// there is exactly one admin principal, not a user directory.
func AdminMiddleware(adminToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if adminToken == "" {
				return echo.NewHTTPError(http.StatusForbidden, "admin endpoints are disabled")
			}
			got := bearerToken(c.Request())
			if got == "" {
				got = c.Request().Header.Get("X-Admin-Token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "invalid admin token")
			}
			return next(c)
		}
	}
}

// RequestLogMiddleware logs method, path, identity, repo, duration, and
// outcome for every request. repo is read from the "namespace" (or "ns")
// and "name" path params when present, matching the route shapes this router registers.
func RequestLogMiddleware(log *logrus.Logger, debugPayloads bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			identity := "anonymous"
			if id := IdentityFromContext(c); !id.Anonymous {
				identity = fmt.Sprintf("user:%d", id.UserID)
			}
			repo := repoLabel(c)
			outcome := "ok"
			status := c.Response().Status
			if err != nil {
				outcome = "error"
				var he *huberr.Error
				if huberr.As(err, &he) {
					status = he.Kind.HTTPStatus()
				} else if status == 0 {
					status = http.StatusInternalServerError
				}
			}

			fields := hublog.RequestFields(c.Request().Method, c.Path(), identity, repo, duration, outcome)
			fields["status"] = status
			entry := log.WithFields(fields)
			if debugPayloads {
				entry = entry.WithField("query", c.QueryString())
			}
			if outcome == "error" {
				entry.WithError(err).Warn("request completed with error")
			} else {
				entry.Info("request completed")
			}
			return err
		}
	}
}

func repoLabel(c echo.Context) string {
	ns, name := c.Param("namespace"), c.Param("name")
	if ns == "" {
		ns = c.Param("ns")
	}
	if ns == "" && name == "" {
		return ""
	}
	return ns + "/" + name
}

// ErrorHandler is registered as echo.Echo.HTTPErrorHandler: it maps a
// huberr.Error onto the X-Error-Code/X-Error-Message headers plus a
// {"error": ...} JSON body. Echo's own *echo.HTTPError (routing/binding
// failures) keeps its status code with X-Error-Code BadRequest; anything
// else falls back to a plain 500 ServerError.
func ErrorHandler(c echo.Context, err error) {
	if c.Response().Committed {
		return
	}

	var he *huberr.Error
	if huberr.As(err, &he) {
		writeError(c, he.Kind.HTTPStatus(), string(he.Code), he.Message)
		return
	}

	var echoErr *echo.HTTPError
	if ok := echoHTTPError(err, &echoErr); ok {
		writeError(c, echoErr.Code, string(huberr.CodeBadRequest), fmt.Sprint(echoErr.Message))
		return
	}

	writeError(c, http.StatusInternalServerError, string(huberr.CodeServerError), "internal server error")
}

func echoHTTPError(err error, target **echo.HTTPError) bool {
	he, ok := err.(*echo.HTTPError)
	if ok {
		*target = he
	}
	return ok
}

func writeError(c echo.Context, status int, code, message string) {
	c.Response().Header().Set("X-Error-Code", code)
	c.Response().Header().Set("X-Error-Message", message)
	_ = c.JSON(status, map[string]string{"error": message})
}
