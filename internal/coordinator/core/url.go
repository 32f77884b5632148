package core

import (
	"net/url"
	"path"
	"strings"
)

// NormalizeJobURL validates raw as an absolute http(s) URL and returns its
// canonical form. When allowedHosts is non-empty the host must equal one of
// the entries or be a subdomain of one.
func NormalizeJobURL(raw string, allowedHosts []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: "malformed URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &ValidationError{Field: "url", Reason: "missing host"}
	}
	if len(allowedHosts) > 0 && !hostAllowed(host, allowedHosts) {
		return "", &ValidationError{Field: "url", Reason: "host " + host + " is not allowed"}
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// DeriveLabel picks a human label for a job URL: the profile handle for
// "/@handle" style paths, otherwise the last path segment, otherwise the host.
func DeriveLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for seg := range strings.SplitSeq(u.Path, "/") {
		if handle, ok := strings.CutPrefix(seg, "@"); ok && handle != "" {
			return handle
		}
	}
	if base := path.Base(strings.TrimRight(u.Path, "/")); base != "." && base != "/" && base != "" {
		return base
	}
	return u.Hostname()
}
