// Package audit records security-relevant events: rejected credentials,
// accounts linked or created on first login, and staff actions.
//
// Loggers are carried on the request context by Middleware and retrieved
// with FromContext, which falls back to a no-op logger. Writes are best
// effort: callers log a failed write and carry on.
//
//	audit.FromContext(ctx).LogAdminAction(ctx, audit.EventTypeAdminMappingDeactivate,
//		&admin.ID, audit.ResourceTypeMapping, "42", "identity mapping deactivated")
package audit
