package licensing

import (
	"net/http"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/httputil"
)

// Gate guards HTTP subtrees behind module availability and tier permissions,
// mirroring the UI access-gate components: allowed requests pass through,
// blocked requests get a fallback, an upgrade prompt or lock indicator, or
// nothing at all.
type Gate struct {
	resolver    *Resolver
	defaultUser string
	upgradeURL  string
}

// NewGate creates a gate factory around a resolver. defaultUser is the
// placeholder identity used when a request carries none.
func NewGate(resolver *Resolver, defaultUser, upgradeURL string) *Gate {
	return &Gate{
		resolver:    resolver,
		defaultUser: defaultUser,
		upgradeURL:  upgradeURL,
	}
}

// GateOption customizes a single gate.
type GateOption func(*gateConfig)

type gateConfig struct {
	fallback          http.Handler
	showUpgradePrompt bool
	showLockIndicator bool
	user              string
}

// WithFallback serves the given handler instead of the default blocked
// response.
func WithFallback(h http.Handler) GateOption {
	return func(c *gateConfig) { c.fallback = h }
}

// WithoutUpgradePrompt suppresses the upgrade prompt on module gates; a
// blocked request then renders nothing.
func WithoutUpgradePrompt() GateOption {
	return func(c *gateConfig) { c.showUpgradePrompt = false }
}

// WithLockIndicator makes a permission gate answer denied requests with a
// small restricted indicator instead of nothing.
func WithLockIndicator() GateOption {
	return func(c *gateConfig) { c.showLockIndicator = true }
}

// WithUser pins the gate to an explicit user identity instead of the
// request's authenticated identity.
func WithUser(email string) GateOption {
	return func(c *gateConfig) { c.user = email }
}

// effectiveUser picks the identity a gate resolves against: explicit option,
// then the authenticated identity from the request context, then the
// configured placeholder.
func (g *Gate) effectiveUser(r *http.Request, cfg *gateConfig) string {
	if cfg.user != "" {
		return cfg.user
	}
	if identity := contextkeys.GetIdentity(r.Context()); identity != "" {
		return identity
	}
	return g.defaultUser
}

// RequireModule blocks requests unless the module is active for the
// effective user's organization. Unavailable modules answer with the
// fallback handler when one is configured, otherwise an upgrade prompt
// (enabled by default), otherwise nothing (404).
func (g *Gate) RequireModule(module ModuleKey, opts ...GateOption) func(http.Handler) http.Handler {
	cfg := &gateConfig{showUpgradePrompt: true}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := g.effectiveUser(r, cfg)
			orgID := g.resolver.UserOrg(r.Context(), user)

			if g.resolver.HasModuleAccess(r.Context(), orgID, module) {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.fallback != nil {
				cfg.fallback.ServeHTTP(w, r)
				return
			}
			if cfg.showUpgradePrompt {
				httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{
					"error":       "module_not_available",
					"module":      module,
					"message":     "This module is not included in your organization's license.",
					"upgrade_url": g.upgradeURL,
				})
				return
			}
			http.NotFound(w, r)
		})
	}
}

// RequirePermission blocks requests unless the effective user's tier allows
// the action. Denied requests answer with the fallback handler when one is
// configured, otherwise a restricted indicator when enabled, otherwise
// nothing (404).
func (g *Gate) RequirePermission(action Action, opts ...GateOption) func(http.Handler) http.Handler {
	cfg := &gateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := g.effectiveUser(r, cfg)

			if g.resolver.CanPerform(r.Context(), user, action) {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.fallback != nil {
				cfg.fallback.ServeHTTP(w, r)
				return
			}
			if cfg.showLockIndicator {
				httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{
					"restricted": true,
					"action":     action,
				})
				return
			}
			http.NotFound(w, r)
		})
	}
}
