// Package hostutil normalizes hostnames before they become a pool key or a
// TLS ServerName, matching what every other Go HTTP stack does at the
// net/url boundary: Unicode hostnames are dialed and keyed by their ASCII
// (punycode) form.
package hostutil

import (
	"golang.org/x/net/idna"
)

var profile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// Normalize converts host to its ASCII (punycode) form. A host that fails
// strict IDNA lookup but was already ASCII is returned verbatim rather than
// rejected — this is a normalization helper, not a validator.
func Normalize(host string) string {
	if host == "" {
		return host
	}
	ascii, err := profile.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}
