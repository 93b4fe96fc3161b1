// Package auth defines the credential and session-lifecycle boundary.
//
// It is the single place that owns user identity, password credentials,
// access/refresh token issuance, and password-reset flows so the rest of the
// platform can depend on verified principals instead of re-implementing
// identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/http: JSON endpoints and bearer-token middleware
//   - token: signed access/refresh token issuance and rotation
//   - account: registration, login, and password lifecycle orchestration
//   - oauth: external provider flows and identity linking
//   - storage: persistence interfaces and SQLite implementations
//   - user: user domain model and helpers
//   - email: outbound mail handoff for reset notifications
package auth
