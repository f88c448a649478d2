// Package database provides PostgreSQL connection pools for the agent's
// event journal.
package database
