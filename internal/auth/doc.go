// Package auth holds the agent's API tokens and reads the claims of the
// JWT access tokens issued by the backend.
//
// Claims are read without verifying the signature: the signing key stays on
// the server, and the client only needs the user id and expiry to decide
// which channel to open and when to refresh.
package auth
