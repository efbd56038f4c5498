package api

import (
	"fmt"
	"net/url"
)

// buildTargetURL resolves an API path, which may carry a query string,
// against the configured base URL.
func buildTargetURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	u = u.JoinPath(ref.EscapedPath())
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}
