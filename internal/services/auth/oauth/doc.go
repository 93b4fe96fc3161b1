// Package oauth implements external identity provider flows. It hosts the
// start/callback HTTP endpoints for Google and GitHub, exchanges authorization
// codes with PKCE, normalizes provider profiles, and resolves them to local
// accounts through the Linker.
package oauth
