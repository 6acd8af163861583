package api

import "fmt"

// GrantKey addresses a stored tool permission. It is a struct rather
// than a concatenated string so that server IDs containing a separator
// character cannot collide.
type GrantKey struct {
	Server string
	Tool   string
}

// String renders the key for logs and error messages only; it is never
// used as a map key.
func (k GrantKey) String() string {
	return fmt.Sprintf("%s/%s", k.Server, k.Tool)
}
