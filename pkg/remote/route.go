package remote

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeBase cleans a base path: a leading slash is added and trailing
// slashes are removed. The root path normalizes to "".
func NormalizeBase(base string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return base
}

// underBase reports whether path is base or lies below it.
func underBase(path, base string) bool {
	if base == "" {
		return true
	}
	if !strings.HasPrefix(path, base) {
		return false
	}
	rest := path[len(base):]
	return rest == "" || rest[0] == '/'
}

// longestBase returns the longest base in bases that path lies under.
func longestBase[V any](path string, bases map[string]V) (string, bool) {
	best, found := "", false
	for base := range bases {
		if !underBase(path, base) {
			continue
		}
		if !found || len(base) > len(best) {
			best, found = base, true
		}
	}
	return best, found
}

// connectURL turns a server URL into the WebSocket URL interceptors dial.
func connectURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", serverURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + ConnectPath
	u.RawPath, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}
