package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	approvalIDPrefix = "appr_"
)

var approvalIDPattern = regexp.MustCompile(`^appr_[a-zA-Z0-9]{24}$`)

// NewApprovalID generates a new pending-approval ID with the "appr_"
// prefix followed by 24 cryptographically random alphanumeric characters.
func NewApprovalID() string {
	return approvalIDPrefix + randomAlphanumeric(idLength)
}

// ValidateApprovalID checks whether the given string is a valid approval ID
// (matches "appr_" + 24 alphanumeric characters).
func ValidateApprovalID(id string) bool {
	return approvalIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
