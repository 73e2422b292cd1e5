// Package creds composes authenticated clone URLs for Bitbucket
// repositories. For API tokens, Bitbucket expects HTTP basic auth with
// the static username below, so any credentials already embedded in a
// clone URL are replaced rather than merged.
package creds

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bucketcloner/bucketcloner/internal/config"
)

// Username is the static username Bitbucket documents for API token
// authentication over HTTPS.
const Username = "x-bitbucket-api-token-auth"

// ErrInvalidURL is reported when a clone URL has neither an "@" nor a
// "//" delimiter and the host+path segment cannot be located.
var ErrInvalidURL = errors.New("invalid clone URL")

// Compose returns the URL to hand to the git client. In SSH mode the
// URL passes through untouched, since keys handle authentication
// externally. In HTTPS mode the host+path segment is extracted and the
// token is embedded, percent-encoded so that reserved characters in the
// token never break the URL.
func Compose(rawURL, token string, mode config.AuthMode) (string, error) {
	if mode == config.AuthSSH {
		return rawURL, nil
	}

	var rest string
	if _, after, ok := strings.Cut(rawURL, "@"); ok {
		rest = after
	} else if _, after, ok := strings.Cut(rawURL, "//"); ok {
		rest = after
	} else {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	return "https://" + Username + ":" + escape(token) + "@" + rest, nil
}

const upperhex = "0123456789ABCDEF"

// escape percent-encodes every byte outside the RFC 3986 unreserved
// set. net/url is not used here: its userinfo encoding leaves
// sub-delimiters such as "!" unescaped, and tokens must survive with
// all reserved characters encoded.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}
	return b.String()
}
