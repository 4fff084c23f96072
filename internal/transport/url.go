package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPath is the chat endpoint on the agent server.
const DefaultPath = "/api/v1/ws/chat"

// BuildURL returns the WebSocket URL for one chat channel.
//
// The scheme follows the base: https and wss bases produce wss, http and ws
// bases produce ws. The credential and session id travel as the "token" and
// "session_id" query parameters.
func BuildURL(base, path, credential, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	q := u.Query()
	q.Set("token", credential)
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}
