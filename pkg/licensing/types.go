package licensing

import (
	"fmt"
	"time"
)

// Tier is a coarse capability level assigned to a user within an organization.
type Tier string

const (
	TierReadOnly    Tier = "read_only"
	TierTeamMember  Tier = "team_member"
	TierFullLicense Tier = "full_license"
)

// DefaultTier is returned for users with no license record. Untracked users
// keep full access for backward compatibility.
const DefaultTier = TierFullLicense

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierReadOnly, TierTeamMember, TierFullLicense:
		return true
	}
	return false
}

// ParseTier parses a tier string.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown license tier: %q", s)
	}
	return t, nil
}

// ModuleKey identifies an optionally-licensed feature area of the product.
type ModuleKey string

const (
	ModuleBase     ModuleKey = "base"
	ModuleSkills   ModuleKey = "skills"
	ModuleBenefits ModuleKey = "benefits"
)

// AllModules is the full module set, used for per-org pre-provisioning and as
// the fail-open default for module listing.
var AllModules = []ModuleKey{ModuleBase, ModuleSkills, ModuleBenefits}

// Valid reports whether m is a known module key.
func (m ModuleKey) Valid() bool {
	switch m {
	case ModuleBase, ModuleSkills, ModuleBenefits:
		return true
	}
	return false
}

// ParseModuleKey parses a module key string.
func ParseModuleKey(s string) (ModuleKey, error) {
	m := ModuleKey(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown module key: %q", s)
	}
	return m, nil
}

// Action identifies an operation gated by tier permissions. The set is closed:
// an unknown action always resolves to deny.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// AllActions lists every known action.
var AllActions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionManage}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionCreate, ActionEdit, ActionDelete, ActionManage:
		return true
	}
	return false
}

// ParseAction parses an action string.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action: %q", s)
	}
	return a, nil
}

// UserLicense maps a user identity to a license tier within an organization.
// At most one active record per (user, org) pair is authoritative.
type UserLicense struct {
	ID           int64      `json:"id"`
	UserEmail    string     `json:"user_email"`
	OrgID        string     `json:"org_id"`
	Tier         Tier       `json:"tier"`
	Active       bool       `json:"active"`
	AssignedAt   time.Time  `json:"assigned_at"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// OrgModule records whether a feature module is licensed for an organization.
// The base module is always treated as active regardless of stored state.
type OrgModule struct {
	OrgID       string     `json:"org_id"`
	Module      ModuleKey  `json:"module"`
	Active      bool       `json:"active"`
	LicenseKey  string     `json:"license_key,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the module's expiry date has passed. Expiry is
// reported but never enforced by automatic deactivation.
func (m OrgModule) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// PermissionRule maps (tier, action) to an allow/deny decision.
type PermissionRule struct {
	Tier       Tier   `json:"tier"`
	Action     Action `json:"action"`
	CanExecute bool   `json:"can_execute"`
}
