// Package middleware provides the request authentication gate.
//
// A Gate runs a resolver.Strategy once per request and converts the outcome
// into HTTP behavior:
//
//	gate := middleware.NewGate(chain, cfg.Gate.BypassPrefixes, logger)
//	router.Handle("/api/auth/me", gate.Required(meHandler))
//	router.Handle("/api/session", gate.Optional(sessionHandler))
//
// Required mode answers 401 with {"detail","code"} for rejected and
// anonymous requests. Optional mode always continues; the account is bound
// only when resolution succeeded. Paths matching a bypass prefix skip
// resolution in both modes.
//
// Handlers read the result with AccountFromContext and OutcomeFromContext.
// RequireStaff restricts a route to staff accounts.
package middleware
