package licensing

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/httputil"
	"github.com/alignex/entitlements/pkg/observability"
)

// Handlers exposes the resolver and administrative store operations over
// HTTP. Every administrative mutation invalidates the resolver cache before
// responding.
type Handlers struct {
	store       *Store
	resolver    *Resolver
	logger      *observability.Logger
	defaultUser string
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(store *Store, resolver *Resolver, logger *observability.Logger, defaultUser string) *Handlers {
	return &Handlers{
		store:       store,
		resolver:    resolver,
		logger:      logger,
		defaultUser: defaultUser,
	}
}

func (h *Handlers) effectiveUser(r *http.Request) string {
	if identity := contextkeys.GetIdentity(r.Context()); identity != "" {
		return identity
	}
	return h.defaultUser
}

// GetTier returns the resolved tier for the effective identity.
func (h *Handlers) GetTier(w http.ResponseWriter, r *http.Request) {
	user := h.effectiveUser(r)
	tier := h.resolver.UserTier(r.Context(), user)

	if err := h.store.TouchLastAccess(r.Context(), user); err != nil {
		h.logger.WithError(err).WithField("user", user).Debug("failed to record last access")
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user": user,
		"tier": tier,
	})
}

// GetAvailableModules returns the active modules for the effective
// identity's organization.
func (h *Handlers) GetAvailableModules(w http.ResponseWriter, r *http.Request) {
	user := h.effectiveUser(r)
	orgID := h.resolver.UserOrg(r.Context(), user)
	modules := h.resolver.AvailableModules(r.Context(), orgID)
	if modules == nil {
		modules = []ModuleKey{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"org":     orgID,
		"modules": modules,
	})
}

// CheckModule reports whether a single module is available.
func (h *Handlers) CheckModule(w http.ResponseWriter, r *http.Request) {
	module, err := ParseModuleKey(mux.Vars(r)["key"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	user := h.effectiveUser(r)
	orgID := h.resolver.UserOrg(r.Context(), user)

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"module":    module,
		"available": h.resolver.HasModuleAccess(r.Context(), orgID, module),
	})
}

type checkActionRequest struct {
	Action string `json:"action"`
}

// CheckAction reports whether the effective identity may perform an action.
// Unknown actions resolve to deny rather than an error so callers can probe
// freely.
func (h *Handlers) CheckAction(w http.ResponseWriter, r *http.Request) {
	var req checkActionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user := h.effectiveUser(r)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"action":  req.Action,
		"allowed": h.resolver.CanPerform(r.Context(), user, Action(req.Action)),
	})
}

type assignLicenseRequest struct {
	UserEmail string `json:"user_email"`
	OrgID     string `json:"org_id"`
	Tier      string `json:"tier"`
	Notes     string `json:"notes"`
}

// AssignLicense creates an active license for a user.
func (h *Handlers) AssignLicense(w http.ResponseWriter, r *http.Request) {
	var req assignLicenseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserEmail == "" || req.OrgID == "" {
		httputil.WriteBadRequest(w, "user_email and org_id are required")
		return
	}
	tier, err := ParseTier(req.Tier)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	lic, err := h.store.AssignLicense(r.Context(), req.UserEmail, req.OrgID, tier, req.Notes)
	if err != nil {
		h.logger.WithError(err).Error("failed to assign license")
		httputil.WriteInternalError(w, "failed to assign license")
		return
	}

	h.resolver.ClearCache(r.Context(), req.UserEmail)
	httputil.WriteCreated(w, lic)
}

// ListLicenses lists licenses, optionally filtered by org.
func (h *Handlers) ListLicenses(w http.ResponseWriter, r *http.Request) {
	orgID := httputil.ParseQueryString(r, "org", "")
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid offset")
		return
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	licenses, err := h.store.ListLicenses(r.Context(), orgID, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("failed to list licenses")
		httputil.WriteInternalError(w, "failed to list licenses")
		return
	}
	if licenses == nil {
		licenses = []UserLicense{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"licenses": licenses,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetLicense returns the newest license record for a user.
func (h *Handlers) GetLicense(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]

	lic, err := h.store.GetLicense(r.Context(), email)
	if err != nil {
		h.logger.WithError(err).Error("failed to get license")
		httputil.WriteInternalError(w, "failed to get license")
		return
	}
	if lic == nil {
		httputil.WriteNotFoundError(w, "no license for "+email)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, lic)
}

type updateLicenseRequest struct {
	Tier   *string `json:"tier,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// UpdateLicense changes a license's tier and/or active flag. Licenses are
// deactivated here, never deleted.
func (h *Handlers) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]

	var req updateLicenseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Tier == nil && req.Active == nil {
		httputil.WriteBadRequest(w, "nothing to update: provide tier and/or active")
		return
	}

	if req.Tier != nil {
		tier, err := ParseTier(*req.Tier)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		if err := h.store.UpdateLicenseTier(r.Context(), email, tier); err != nil {
			h.writeStoreError(w, err, "failed to update tier")
			return
		}
	}
	if req.Active != nil {
		if err := h.store.SetLicenseActive(r.Context(), email, *req.Active); err != nil {
			h.writeStoreError(w, err, "failed to update active flag")
			return
		}
	}

	h.resolver.ClearCache(r.Context(), email)

	lic, err := h.store.GetLicense(r.Context(), email)
	if err != nil || lic == nil {
		httputil.WriteSuccess(w, map[string]string{"status": "updated"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lic)
}

// ListOrgModules returns all module records for an organization.
func (h *Handlers) ListOrgModules(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org"]

	modules, err := h.store.ListOrgModules(r.Context(), orgID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list org modules")
		httputil.WriteInternalError(w, "failed to list org modules")
		return
	}
	if modules == nil {
		modules = []OrgModule{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"org":     orgID,
		"modules": modules,
	})
}

type upsertModuleRequest struct {
	Active      bool       `json:"active"`
	LicenseKey  string     `json:"license_key,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// UpsertOrgModule creates or replaces a module record for an organization.
func (h *Handlers) UpsertOrgModule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orgID := vars["org"]
	module, err := ParseModuleKey(vars["key"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req upsertModuleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	record := OrgModule{
		OrgID:       orgID,
		Module:      module,
		Active:      req.Active,
		LicenseKey:  req.LicenseKey,
		ActivatedAt: req.ActivatedAt,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := h.store.UpsertModule(r.Context(), record); err != nil {
		h.logger.WithError(err).Error("failed to upsert org module")
		httputil.WriteInternalError(w, "failed to upsert org module")
		return
	}

	h.resolver.ClearCache(r.Context())
	httputil.WriteJSON(w, http.StatusOK, record)
}

// GetRule returns a single (tier, action) permission rule.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	tier, action, ok := parseRuleVars(w, r)
	if !ok {
		return
	}

	rule, err := h.store.GetRule(r.Context(), tier, action)
	if err != nil {
		h.logger.WithError(err).Error("failed to get rule")
		httputil.WriteInternalError(w, "failed to get rule")
		return
	}
	if rule == nil {
		httputil.WriteNotFoundError(w, "no such rule")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, rule)
}

type upsertRuleRequest struct {
	CanExecute bool `json:"can_execute"`
}

// UpsertRule creates or replaces a (tier, action) permission rule.
func (h *Handlers) UpsertRule(w http.ResponseWriter, r *http.Request) {
	tier, action, ok := parseRuleVars(w, r)
	if !ok {
		return
	}

	var req upsertRuleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	rule := PermissionRule{Tier: tier, Action: action, CanExecute: req.CanExecute}
	if err := h.store.UpsertRule(r.Context(), rule); err != nil {
		h.logger.WithError(err).Error("failed to upsert rule")
		httputil.WriteInternalError(w, "failed to upsert rule")
		return
	}

	h.resolver.ClearCache(r.Context())
	httputil.WriteJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a (tier, action) permission rule.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	tier, action, ok := parseRuleVars(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteRule(r.Context(), tier, action); err != nil {
		h.writeStoreError(w, err, "failed to delete rule")
		return
	}

	h.resolver.ClearCache(r.Context())
	httputil.WriteNoContent(w)
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	h.logger.WithError(err).Error(message)
	httputil.WriteInternalError(w, message)
}

func parseRuleVars(w http.ResponseWriter, r *http.Request) (Tier, Action, bool) {
	vars := mux.Vars(r)
	tier, err := ParseTier(vars["tier"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", "", false
	}
	action, err := ParseAction(vars["action"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", "", false
	}
	return tier, action, true
}
