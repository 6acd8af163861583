// Package storage provides utilities shared across grant store
// implementations, currently the sentinel errors.
//
// Store adapters (memory, postgres) implement the permission.GrantStore
// interface defined in pkg/permission/store.go. This package contains
// only shared types and helpers, not the interface itself.
package storage
