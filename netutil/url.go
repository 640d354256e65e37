package netutil

import (
	"net/url"
	"strings"
)

// StripCredentials drops any user:password@ part so the URL can be
// logged. An unparseable URL comes back unchanged.
func StripCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// NormalizeURL reduces a URL to the form that keys the response cache:
// no credentials, lowercase scheme and host, default ports and
// trailing path slashes removed, query parameters sorted. Two source
// spellings of the same feed share one cache namespace.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.User = nil
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch {
	case u.Scheme == "https" && u.Port() == "443",
		u.Scheme == "http" && u.Port() == "80":
		u.Host = u.Hostname()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

// IsHTTPS reports whether the URL names a TLS source.
func IsHTTPS(raw string) bool { return hasScheme(raw, "https") }

// IsOCI reports whether the URL names an OCI registry source.
func IsOCI(raw string) bool { return hasScheme(raw, "oci") }

func hasScheme(raw, scheme string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, scheme)
}
