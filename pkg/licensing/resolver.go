package licensing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alignex/entitlements/pkg/observability"
)

// DefaultCacheTTL bounds how long a resolution is served without consulting
// the store.
const DefaultCacheTTL = 5 * time.Minute

// Resolver is the single source of truth for "can this user see or do X".
// It shields callers from repeated store round-trips with a short-lived
// cache and never surfaces store failures: absent data denies, but a failed
// query degrades to a permissive default. Concurrent misses for the same key
// may each query the store; reads are idempotent so duplicates are only
// wasted round-trips.
type Resolver struct {
	store      LicenseStore
	cache      Cache
	logger     *observability.Logger
	metrics    *observability.Metrics
	ttl        time.Duration
	defaultOrg string
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithDefaultOrg overrides the organization returned when a user has no
// license record.
func WithDefaultOrg(orgID string) ResolverOption {
	return func(r *Resolver) { r.defaultOrg = orgID }
}

// NewResolver creates a resolver over the given store and cache.
func NewResolver(store LicenseStore, cache Cache, logger *observability.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:      store,
		cache:      cache,
		logger:     logger,
		ttl:        DefaultCacheTTL,
		defaultOrg: "epma-default",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const (
	tierKeyPrefix    = "tier:"
	orgKeyPrefix     = "org:"
	modulesKeyPrefix = "modules:"
	rulesKeyPrefix   = "rules:"
)

// UserTier resolves a user's license tier. Users without an active license
// record keep the full-license default; so does any user whose lookup fails.
func (r *Resolver) UserTier(ctx context.Context, email string) Tier {
	defer r.observeResolution(ctx, "user_tier", time.Now())

	key := tierKeyPrefix + email
	if value, ok := r.cache.Get(ctx, key); ok {
		r.cacheHit(ctx, "tier")
		return Tier(value)
	}
	r.cacheMiss(ctx, "tier")

	lic, err := r.store.GetActiveLicense(ctx, email)
	if err != nil {
		r.failOpen(ctx, "user_tier")
		r.logger.WithError(err).WithField("user", email).Warn("license lookup failed, using default tier")
		return DefaultTier
	}

	tier := DefaultTier
	if lic != nil {
		tier = lic.Tier
	}
	r.cache.Set(ctx, key, []byte(tier), r.ttl)
	return tier
}

// UserOrg resolves the organization a user's license belongs to, falling
// back to the default organization when the user has no license record or
// the lookup fails.
func (r *Resolver) UserOrg(ctx context.Context, email string) string {
	defer r.observeResolution(ctx, "user_org", time.Now())

	key := orgKeyPrefix + email
	if value, ok := r.cache.Get(ctx, key); ok {
		r.cacheHit(ctx, "org")
		return string(value)
	}
	r.cacheMiss(ctx, "org")

	lic, err := r.store.GetActiveLicense(ctx, email)
	if err != nil {
		r.failOpen(ctx, "user_org")
		r.logger.WithError(err).WithField("user", email).Warn("license lookup failed, using default org")
		return r.defaultOrg
	}

	org := r.defaultOrg
	if lic != nil {
		org = lic.OrgID
	}
	r.cache.Set(ctx, key, []byte(org), r.ttl)
	return org
}

// HasModuleAccess reports whether a module is active for an organization.
// The base module is always available without consulting storage. A missing
// record denies; a failed lookup allows.
func (r *Resolver) HasModuleAccess(ctx context.Context, orgID string, module ModuleKey) bool {
	defer r.observeResolution(ctx, "module_access", time.Now())

	if module == ModuleBase {
		return true
	}

	modules, err := r.orgModules(ctx, orgID)
	if err != nil {
		r.failOpen(ctx, "module_access")
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"org":    orgID,
			"module": module,
		}).Warn("module lookup failed, allowing access")
		return true
	}

	for _, m := range modules {
		if m.Module == module {
			return m.Active
		}
	}
	return false
}

// CanPerform reports whether a user's tier allows an action. Unknown actions
// and missing rules deny; a failed rule lookup allows.
func (r *Resolver) CanPerform(ctx context.Context, email string, action Action) bool {
	defer r.observeResolution(ctx, "can_perform", time.Now())

	if !action.Valid() {
		return false
	}

	tier := r.UserTier(ctx, email)

	rules, err := r.tierRules(ctx, tier)
	if err != nil {
		r.failOpen(ctx, "can_perform")
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"user":   email,
			"action": action,
		}).Warn("permission lookup failed, allowing action")
		return true
	}

	for _, rule := range rules {
		if rule.Action == action {
			return rule.CanExecute
		}
	}
	return false
}

// AvailableModules returns the active module keys for an organization. A
// failed lookup returns the full default module set.
func (r *Resolver) AvailableModules(ctx context.Context, orgID string) []ModuleKey {
	defer r.observeResolution(ctx, "available_modules", time.Now())

	modules, err := r.orgModules(ctx, orgID)
	if err != nil {
		r.failOpen(ctx, "available_modules")
		r.logger.WithError(err).WithField("org", orgID).Warn("module lookup failed, returning default set")
		return append([]ModuleKey(nil), AllModules...)
	}

	var available []ModuleKey
	for _, m := range modules {
		if m.Active {
			available = append(available, m.Module)
		}
	}
	return available
}

// ClearCache invalidates cached resolutions. With emails it drops only those
// users' tier and org entries; without arguments it wipes everything. Every
// administrative mutation path must call this to avoid serving stale
// decisions for up to the cache TTL.
func (r *Resolver) ClearCache(ctx context.Context, emails ...string) {
	if len(emails) == 0 {
		r.cache.Flush(ctx)
		r.invalidated(ctx, "all")
		return
	}
	for _, email := range emails {
		r.cache.Delete(ctx, tierKeyPrefix+email, orgKeyPrefix+email)
	}
	r.invalidated(ctx, "user")
}

func (r *Resolver) orgModules(ctx context.Context, orgID string) ([]OrgModule, error) {
	key := modulesKeyPrefix + orgID
	if value, ok := r.cache.Get(ctx, key); ok {
		r.cacheHit(ctx, "modules")
		var modules []OrgModule
		if err := json.Unmarshal(value, &modules); err == nil {
			return modules, nil
		}
		r.cache.Delete(ctx, key)
	}
	r.cacheMiss(ctx, "modules")

	modules, err := r.store.ListOrgModules(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(modules); err == nil {
		r.cache.Set(ctx, key, encoded, r.ttl)
	}
	return modules, nil
}

func (r *Resolver) tierRules(ctx context.Context, tier Tier) ([]PermissionRule, error) {
	key := rulesKeyPrefix + string(tier)
	if value, ok := r.cache.Get(ctx, key); ok {
		r.cacheHit(ctx, "rules")
		var rules []PermissionRule
		if err := json.Unmarshal(value, &rules); err == nil {
			return rules, nil
		}
		r.cache.Delete(ctx, key)
	}
	r.cacheMiss(ctx, "rules")

	rules, err := r.store.ListTierRules(ctx, tier)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(rules); err == nil {
		r.cache.Set(ctx, key, encoded, r.ttl)
	}
	return rules, nil
}

func (r *Resolver) cacheHit(ctx context.Context, cache string) {
	if r.metrics != nil {
		r.metrics.RecordCacheHit(ctx, cache)
	}
}

func (r *Resolver) cacheMiss(ctx context.Context, cache string) {
	if r.metrics != nil {
		r.metrics.RecordCacheMiss(ctx, cache)
	}
}

func (r *Resolver) failOpen(ctx context.Context, operation string) {
	if r.metrics != nil {
		r.metrics.RecordFailOpen(ctx, operation)
	}
}

func (r *Resolver) invalidated(ctx context.Context, scope string) {
	if r.metrics != nil {
		r.metrics.RecordCacheInvalidation(ctx, scope)
	}
}

func (r *Resolver) observeResolution(ctx context.Context, operation string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveResolution(ctx, operation, start)
	}
}
