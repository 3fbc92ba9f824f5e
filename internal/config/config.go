package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Session represents a per-session session.toml: which backend to talk to,
// who we are, and how to authenticate the realtime connection.
type Session struct {
	Server   Server   `toml:"server"`
	Identity Identity `toml:"identity"`
	Auth     Auth     `toml:"auth"`

	// ReconnectDelayMs overrides the fixed reconnect delay. 0 means the
	// default of 3000.
	ReconnectDelayMs int `toml:"reconnect_delay_ms"`
}

// Server holds the backend endpoints.
type Server struct {
	WSURL  string `toml:"ws_url"`  // e.g. wss://api.example.com
	APIURL string `toml:"api_url"` // e.g. https://api.example.com
}

// Identity names the authenticated principal.
type Identity struct {
	ID    string `toml:"id"`
	Email string `toml:"email"`
	Name  string `toml:"name"`
}

// Auth selects one of the two credential schemes.
// scheme = "bearer":      token (+ recipient_id for the customer flow)
// scheme = "fingerprint": public_fingerprint + private_fingerprint
type Auth struct {
	Scheme             string `toml:"scheme"`
	Token              string `toml:"token"`
	RecipientID        string `toml:"recipient_id"`
	PublicFingerprint  string `toml:"public_fingerprint"`
	PrivateFingerprint string `toml:"private_fingerprint"`
}

// Load reads the global config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// LoadSession reads a session config and validates it.
func LoadSession(path string) (*Session, error) {
	var s Session
	_, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// SaveSession writes a session config.
func SaveSession(path string, s *Session) error {
	return write(path, s)
}

// Validate checks that the session config is complete enough to connect.
func (s *Session) Validate() error {
	if s.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	switch s.Auth.Scheme {
	case "bearer":
		if s.Auth.Token == "" {
			return fmt.Errorf("auth.token is required for scheme %q", s.Auth.Scheme)
		}
	case "fingerprint":
		if s.Auth.PublicFingerprint == "" || s.Auth.PrivateFingerprint == "" {
			return fmt.Errorf("auth.public_fingerprint and auth.private_fingerprint are required for scheme %q", s.Auth.Scheme)
		}
	default:
		return fmt.Errorf("unknown auth.scheme %q (want bearer or fingerprint)", s.Auth.Scheme)
	}
	return nil
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
