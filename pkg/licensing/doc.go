// Package licensing resolves, per user and organization, which feature
// modules are visible and which actions are allowed.
//
// Persisted state lives in three collections: user licenses (user to tier
// within an org), org modules (which feature areas an org has licensed) and
// tier permissions (which actions a tier may perform). The Resolver answers
// access questions over those collections through a short-lived cache, and
// gates wrap HTTP subtrees with module and permission checks.
//
// Failure policy: store failures never propagate to callers. Absent data
// denies, but a failed query degrades to a permissive default. The asymmetry
// is inherited behavior that downstream gating depends on.
package licensing
