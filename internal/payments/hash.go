package payments

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrHashMissing is returned when the callback has no hash to verify.
	ErrHashMissing = errors.New("payments: response hash missing")
	// ErrHashMismatch is returned when the callback hash does not match.
	ErrHashMismatch = errors.New("payments: response hash mismatch")
)

// responseHashFields is the Easebuzz reverse hash sequence between the salt and the key.
var responseHashFields = []string{
	"status", "udf10", "udf9", "udf8", "udf7", "udf6", "udf5", "udf4", "udf3", "udf2", "udf1",
	"email", "firstname", "productinfo", "amount", "txnid",
}

// ResponseHash computes the Easebuzz response hash for p.
func ResponseHash(p Params, key, salt string) string {
	parts := make([]string, 0, len(responseHashFields)+2)
	parts = append(parts, salt)
	for _, field := range responseHashFields {
		parts = append(parts, p[field])
	}
	parts = append(parts, key)
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// VerifyResponseHash checks the hash Easebuzz attaches to its callbacks.
func VerifyResponseHash(p Params, key, salt string) error {
	got := strings.ToLower(p.Get("hash"))
	if got == "" {
		return ErrHashMissing
	}
	want := ResponseHash(p, key, salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrHashMismatch
	}
	return nil
}
