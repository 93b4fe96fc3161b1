// Package sqlite provides SQLite-backed auth persistence.
//
// It is the default on-disk credential store used by the auth service and
// command tooling that exercises authentication flows.
package sqlite
