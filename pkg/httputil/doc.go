// Package httputil holds the HTTP plumbing shared by the API server.
//
// # Error bodies
//
// Every error response has the same shape:
//
//	{"detail": "Token expired", "code": "token_expired"}
//
// Use WriteProblem when the code matters to clients and the status helpers
// (WriteBadRequest, WriteForbidden, ...) otherwise.
//
// # Middleware
//
// The server composes the middleware in this order:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.CORSMiddleware(origins),
//	)
//
// The wrapped response writers implement http.Hijacker so websocket upgrades
// work behind them.
package httputil
