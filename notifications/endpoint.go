package notifications

import (
	"fmt"
	"net/url"
)

const (
	// EndpointPath is the human-needed stream path relative to the API base.
	EndpointPath = "/notifications/sse/human-needed"
	// AssistantIDParam scopes a stream to a single assistant.
	AssistantIDParam = "assistant_id"
)

// EndpointURL returns the stream URL for base, adding assistant_id only when
// assistantID is not empty. Existing query parameters on base are kept.
func EndpointURL(base string, assistantID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("base URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}
	u = u.JoinPath(EndpointPath)
	q := u.Query()
	q.Del(AssistantIDParam)
	if assistantID != "" {
		q.Set(AssistantIDParam, assistantID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
