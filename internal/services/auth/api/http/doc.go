// Package httpapi exposes the credential and session lifecycle over HTTP.
// It mounts the /auth/ routes on a ServeMux, translates domain errors into
// stable machine-readable JSON error codes, and provides the bearer-token
// request authentication middleware in full, fast, and optional modes.
package httpapi
