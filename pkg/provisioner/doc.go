// Package provisioner maps verified provider claims to a local account,
// linking by email or creating the account and its identity mapping on first
// login.
package provisioner
