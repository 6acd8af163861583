// Package api defines the shared vocabulary of the steward core: the
// error taxonomy returned by the connection manager and permission
// engine, approval identifiers, and the composite key that addresses a
// stored tool permission.
package api
