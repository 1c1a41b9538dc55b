// Package verifier validates access tokens issued by the external identity
// provider and returns the provider's view of the caller.
//
// Three strategies exist and a deployment selects exactly one through
// Config.Mode:
//
//   - shared_secret: HS256 signature checked against the project JWT secret.
//   - jwks: asymmetric signature checked against the provider's published key
//     set. The key set is cached for KeySetTTL; an unknown key id forces one
//     refetch, rate limited by KeySetMinRefresh.
//   - introspection: the provider is asked for the user the token belongs to.
//
// Every strategy checks the token shape first and reports failures as an
// *Error whose Kind is one of Malformed, Expired, InvalidSignatureOrClaims or
// ProviderUnavailable:
//
//	claims, err := v.Verify(ctx, raw)
//	switch verifier.KindOf(err) {
//	case verifier.Expired:
//	    ...
//	}
//
// Verification never writes to the account or mapping stores.
package verifier
