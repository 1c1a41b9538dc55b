// Package resolver turns an Authorization header into an Outcome: Anonymous,
// Resolved with a local account, or Rejected with a Reason.
//
// ProviderResolver verifies provider tokens and provisions the local account.
// In lenient mode a token that fails verification and does not look
// provider-issued (no sub claim) is left Anonymous so a later strategy can
// claim it. LocalTokenStrategy accepts the application's own HS256 tokens.
// Chain runs strategies in order and stops at the first outcome that is not
// Anonymous.
package resolver
