// Package middleware provides HTTP middleware for identity resolution and
// rate limiting.
package middleware
