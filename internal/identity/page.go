// Package identity derives the stable identifiers the counter is keyed on:
// a hashed page key from a canonical page URL and a hashed pseudonymous
// visitor id from client signals.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

// FallbackPrefix marks page references that came from a fallback id rather
// than a referrer URL. Only FallbackPage produces it; Canonicalize never does,
// so the two key spaces never collide.
const FallbackPrefix = "fallback:"

const pageKeyLen = 40

// ErrMissingPageIdentity is returned when a request carries neither a
// referrer nor a fallback id.
var ErrMissingPageIdentity = errors.New("missing page identity")

// Page is a resolved page reference.
type Page struct {
	// Key is the hashed lookup key (40 hex characters).
	Key string
	// URL is the canonical string the key was derived from.
	URL string
}

// ResolvePage picks the page reference for a request. The referrer wins over
// the fallback id; when both are empty ErrMissingPageIdentity is returned.
func ResolvePage(referrer, fallbackID string) (Page, error) {
	referrer = strings.TrimSpace(referrer)
	if referrer != "" {
		return DerivePage(referrer), nil
	}
	fallbackID = strings.TrimSpace(fallbackID)
	if fallbackID != "" {
		return FallbackPage(fallbackID), nil
	}
	return Page{}, ErrMissingPageIdentity
}

// FallbackPage builds the page reference for an explicit fallback id.
func FallbackPage(id string) Page {
	ref := FallbackPrefix + id
	return Page{Key: PageKey(ref), URL: ref}
}

// DerivePage canonicalizes raw and hashes it into a Page.
func DerivePage(raw string) Page {
	canonical := Canonicalize(raw)
	return Page{Key: PageKey(canonical), URL: canonical}
}

// Canonicalize reduces a URL to origin + path, dropping the query string,
// fragment and user info, so that tracking-parameter variants of one page
// share a key. Dot segments in the path are resolved. A URL without a host
// has the origin "null", so "custom:thing" becomes "nullthing". Anything else
// that does not parse as an absolute URL is returned unchanged as an opaque
// identifier.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return opaque(raw)
	}
	if u.Host == "" {
		if isSpecialScheme(strings.ToLower(u.Scheme)) {
			return opaque(raw)
		}
		if u.Opaque != "" {
			return "null" + u.Opaque
		}
		return "null" + u.EscapedPath()
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}

	path := u.ResolveReference(&url.URL{}).EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// PageKey hashes a canonical page string into its 40-character key.
func PageKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:pageKeyLen]
}

// opaque keeps an unparsable referrer as is, unless it would land in the
// fallback namespace.
func opaque(raw string) string {
	if strings.HasPrefix(raw, FallbackPrefix) {
		return "null" + strings.TrimPrefix(raw, FallbackPrefix)
	}
	return raw
}

func isSpecialScheme(scheme string) bool {
	switch scheme {
	case "http", "https", "ws", "wss", "ftp", "file":
		return true
	}
	return false
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http", "ws":
		return port == "80"
	case "https", "wss":
		return port == "443"
	case "ftp":
		return port == "21"
	}
	return false
}
