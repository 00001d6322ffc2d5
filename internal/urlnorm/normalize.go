// Package urlnorm canonicalizes URLs the same way at every boundary that
// touches a Request: construction, fingerprinting, and response resolution.
package urlnorm

import (
	"net/url"
	"path"
	"strings"
)

// Normalize canonicalizes rawURL: lowercases scheme and host, strips userinfo,
// drops default ports, collapses "."/".." segments, removes a trailing slash
// (except on root), drops the fragment, and preserves the query string
// verbatim.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	u.User = nil
	u.Fragment = ""

	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if cleaned == "." {
			cleaned = "/"
		}
		if !strings.HasPrefix(cleaned, "/") && u.Host != "" {
			cleaned = "/" + cleaned
		}
		u.Path = cleaned
	}

	return u.String(), nil
}

// MustNormalize normalizes rawURL, returning rawURL unchanged if it fails to
// parse. Used where a normalization error must not abort the caller (e.g.
// Request construction records the error in metadata instead of failing).
func MustNormalize(rawURL string) string {
	n, err := Normalize(rawURL)
	if err != nil {
		return rawURL
	}
	return n
}

// Join resolves href against base and normalizes the result. Used by
// Response.Follow and Spider middlewares that turn a discovered link into a
// child Request.
func Join(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	resolved := baseURL.ResolveReference(ref)
	return Normalize(resolved.String())
}

// Domain returns the lowercased hostname of a URL, or "" if it fails to parse.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// FilterQueryParams returns a copy of rawURL with its query string filtered
// according to exactly one of ignore or keep (the caller is responsible for
// enforcing mutual exclusivity), then re-normalizes the result. A nil/empty
// set for the active mode is a no-op filter.
func FilterQueryParams(rawURL string, ignore, keep map[string]bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if len(ignore) == 0 && len(keep) == 0 {
		return Normalize(rawURL)
	}

	q := u.Query()
	filtered := url.Values{}
	for k, vals := range q {
		switch {
		case ignore != nil:
			if !ignore[k] {
				filtered[k] = vals
			}
		case keep != nil:
			if keep[k] {
				filtered[k] = vals
			}
		}
	}
	u.RawQuery = filtered.Encode()
	return Normalize(u.String())
}
