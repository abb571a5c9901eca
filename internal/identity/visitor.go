package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// UnknownClient stands in for a missing client address. Every request
// without one collapses into the same pseudo-visitor.
const UnknownClient = "unknown"

const visitorIDLen = 32

// VisitorID derives the pseudonymous visitor id for a client address and
// user agent: sha256("<ip>:<user-agent>"), hex, first 32 characters.
//
// There is no salt and no rotation. The same pair maps to the same id
// forever, and distinct people sharing an address and user agent are one
// visitor.
func VisitorID(clientIP, userAgent string) string {
	if clientIP == "" {
		clientIP = UnknownClient
	}
	sum := sha256.Sum256([]byte(clientIP + ":" + userAgent))
	return hex.EncodeToString(sum[:])[:visitorIDLen]
}

// Short returns a log-friendly prefix of a hashed id.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
