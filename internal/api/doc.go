// Package api provides the client for the Klynaa REST API.
//
// Endpoints used by the worker agent:
//   - POST /users/token/          obtain an access/refresh pair
//   - POST /users/token/refresh/  exchange a refresh token
//   - GET  /pickups/, /pickups/{id}/
//   - GET  /bins/
//
// Requests carry the access token from an auth.Store as a bearer token. A 401
// response clears the store and surfaces as ErrUnauthorized.
package api
