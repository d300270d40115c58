package news

import (
	"net/url"
	"strings"
)

// trackingParam reports whether a query parameter only carries campaign data.
func trackingParam(name string) bool {
	return strings.HasPrefix(name, "utm_") || name == "ref"
}

// Normalize canonicalizes a feed URL into a comparison key. Only http and
// https URLs are accepted; anything else (javascript:, data:, file:, ...)
// or malformed input yields "". The scheme is forced to https, tracking
// parameters and the fragment are removed and the trailing slash is
// trimmed from non-root paths.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Opaque != "" || u.Host == "" {
		return ""
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	u.RawQuery = stripTracking(u.RawQuery)

	// Repeated slashes are trimmed too, otherwise "/a//" would need two
	// passes to settle.
	// Only literal slashes go; an escaped %2F is part of the name.
	if ep := u.EscapedPath(); len(ep) > 1 && strings.HasSuffix(ep, "/") {
		ep = trimTrailingSlash(ep)
		p, err := url.PathUnescape(ep)
		if err != nil {
			return ""
		}
		u.Path, u.RawPath = p, ep
	}

	return u.String()
}

func trimTrailingSlash(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// stripTracking drops tracking parameters from a raw query string while
// keeping the order and encoding of everything else.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		if unescaped, err := url.QueryUnescape(name); err == nil {
			name = unescaped
		}
		if trackingParam(name) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}
