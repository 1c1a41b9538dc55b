// Package api is the HTTP surface of the authentication bridge.
//
// Routes:
//
//	GET  /api/auth/me                           required gate; account, mapping and provider identity
//	GET  /api/session                           optional gate; whether the caller resolved
//	GET  /api/auth/mappings                     staff; page through identity mappings
//	POST /api/auth/mappings/{id}/deactivate     staff; soft-delete a mapping
//	POST /api/realtime/publish                  staff; broadcast {group,type,data}
//	GET  /ws/...                                websocket channels (pkg/realtime)
//
// Server.Handler adds request ids, logging, panic recovery, CORS and
// OpenTelemetry tracing around the router.
package api
