// Package api wires the entitlements HTTP surface: access checks, the
// allocation heat map, and the gated administrative endpoints.
package api
