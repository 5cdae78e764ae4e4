// Package middleware provides the HTTP middleware chain for the
// federation service: request identification, panic recovery, bearer
// token authentication for admin routes, and redis-backed rate
// limiting for the public authentication endpoints.
package middleware
