package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/httputil"
	"github.com/alignex/entitlements/pkg/observability"
)

// IdentityResolver attaches the calling user's email and organization to the
// request context. Two modes are supported: a trusted identity header set by
// an upstream proxy, or OIDC bearer token verification.
type IdentityResolver struct {
	logger         *observability.Logger
	identityHeader string
	orgHeader      string
	defaultUser    string
	defaultOrg     string
	verifier       *oidc.IDTokenVerifier
}

// NewHeaderIdentityResolver builds a resolver that trusts identity headers.
// Requests without the header fall back to the configured default identity.
func NewHeaderIdentityResolver(logger *observability.Logger, identityHeader, defaultUser, defaultOrg string) *IdentityResolver {
	return &IdentityResolver{
		logger:         logger,
		identityHeader: identityHeader,
		orgHeader:      identityHeader + "-Org",
		defaultUser:    defaultUser,
		defaultOrg:     defaultOrg,
	}
}

// NewOIDCIdentityResolver builds a resolver that verifies bearer tokens
// against the given issuer and reads the email claim.
func NewOIDCIdentityResolver(ctx context.Context, logger *observability.Logger, issuer, clientID, defaultOrg string) (*IdentityResolver, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return &IdentityResolver{
		logger:     logger,
		defaultOrg: defaultOrg,
		verifier:   provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Middleware resolves the caller identity and stores it in the context.
func (r *IdentityResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.verifier != nil {
			r.serveOIDC(w, req, next)
			return
		}

		user := req.Header.Get(r.identityHeader)
		if user == "" {
			user = r.defaultUser
		}
		org := req.Header.Get(r.orgHeader)
		if org == "" {
			org = r.defaultOrg
		}

		ctx := contextkeys.WithIdentity(req.Context(), user)
		ctx = contextkeys.WithOrg(ctx, org)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *IdentityResolver) serveOIDC(w http.ResponseWriter, req *http.Request, next http.Handler) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		httputil.WriteUnauthorized(w, "missing authorization header")
		return
	}
	rawToken := strings.TrimPrefix(authHeader, "Bearer ")
	if rawToken == authHeader {
		httputil.WriteUnauthorized(w, "authorization header must use Bearer scheme")
		return
	}

	idToken, err := r.verifier.Verify(req.Context(), rawToken)
	if err != nil {
		r.logger.WithError(err).Warn("token verification failed")
		httputil.WriteUnauthorized(w, "invalid token")
		return
	}

	var claims struct {
		Email string `json:"email"`
		Org   string `json:"org"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Email == "" {
		httputil.WriteUnauthorized(w, "token is missing the email claim")
		return
	}
	org := claims.Org
	if org == "" {
		org = r.defaultOrg
	}

	ctx := contextkeys.WithIdentity(req.Context(), claims.Email)
	ctx = contextkeys.WithOrg(ctx, org)
	next.ServeHTTP(w, req.WithContext(ctx))
}
