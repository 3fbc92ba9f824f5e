package identity

import (
	"fmt"
	"net/url"

	"github.com/merchantdesk/chatsync/internal/config"
)

// Identity is the authenticated principal a connection belongs to.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Credentials builds the realtime connection URL for an identity. The server
// must be able to associate the resulting connection with exactly one
// identity before dispatching any event; both schemes below satisfy that.
type Credentials interface {
	// WebSocketURL returns the full dial URL for the given base
	// (e.g. wss://api.example.com).
	WebSocketURL(base string, id Identity) (string, error)
}

// BearerToken is the customer-flow scheme: the token rides in the query
// string, together with the two participants of the chat.
type BearerToken struct {
	Token       string
	RecipientID string
}

// WebSocketURL implements Credentials.
func (c BearerToken) WebSocketURL(base string, id Identity) (string, error) {
	if c.Token == "" {
		return "", fmt.Errorf("bearer token is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = joinPath(u.Path, "/ws")
	q := u.Query()
	q.Set("userId", id.ID)
	if c.RecipientID != "" {
		q.Set("recipientId", c.RecipientID)
	}
	q.Set("token", c.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FingerprintPair is the merchant-flow scheme: the public fingerprint is a
// path segment, the private one a query parameter.
type FingerprintPair struct {
	Public  string
	Private string
}

// WebSocketURL implements Credentials.
func (c FingerprintPair) WebSocketURL(base string, _ Identity) (string, error) {
	if c.Public == "" || c.Private == "" {
		return "", fmt.Errorf("fingerprint pair is incomplete")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = joinPath(u.Path, "/ws/merchant/"+url.PathEscape(c.Public))
	q := u.Query()
	q.Set("private_fingerprint", c.Private)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromConfig resolves the identity and credential scheme from a session config.
func FromConfig(s *config.Session) (Identity, Credentials, error) {
	id := Identity{
		ID:    s.Identity.ID,
		Email: s.Identity.Email,
		Name:  s.Identity.Name,
	}
	switch s.Auth.Scheme {
	case "bearer":
		return id, BearerToken{Token: s.Auth.Token, RecipientID: s.Auth.RecipientID}, nil
	case "fingerprint":
		return id, FingerprintPair{Public: s.Auth.PublicFingerprint, Private: s.Auth.PrivateFingerprint}, nil
	default:
		return Identity{}, nil, fmt.Errorf("unknown auth scheme %q", s.Auth.Scheme)
	}
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + p
}
