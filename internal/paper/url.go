package paper

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters that never distinguish one paper from
// another; they are stripped before hashing so two shares of the same page
// dedup to one identity.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"ref":          {},
	"source":       {},
	"fbclid":       {},
	"gclid":        {},
}

// NormalizeURL standardizes a URL so equivalent links compare equal. It
// lowercases the scheme and host, forces https (academic hosts serve both),
// drops default ports, fragments, trailing slashes, and tracking parameters,
// and sorts the remaining query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	q := u.Query()
	for param := range q {
		if _, tracked := trackingParams[param]; tracked {
			q.Del(param)
		}
	}
	// Encode sorts keys, so parameter order never affects identity.
	u.RawQuery = q.Encode()

	return u.String(), nil
}
