// Package server composes and runs the auth process boundary.
//
// It hosts the /auth/ HTTP API plus the external provider endpoints over one
// shared SQLite store so identity decisions are made from one source of
// truth, and owns the periodic expiry sweep.
package server
