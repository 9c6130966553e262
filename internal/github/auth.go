package github

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

// Config holds the GitHub client credentials. Either Token or the App
// fields may be set; with neither, requests are unauthenticated.
type Config struct {
	Token string

	AppID          int64
	InstallationID int64
	PrivateKey     string
	PrivateKeyPath string

	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string
}

// usesApp reports whether GitHub App installation auth is configured.
func (c Config) usesApp() bool {
	return c.AppID != 0 && c.InstallationID != 0
}

// appHTTPClient creates an http.Client authenticated as a GitHub App
// installation. ghinstallation handles JWT signing and installation token
// refresh.
func appHTTPClient(cfg Config) (*http.Client, error) {
	key, err := resolvePrivateKey([]byte(cfg.PrivateKey), cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("resolving private key: %w", err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, cfg.AppID, cfg.InstallationID, key)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	if cfg.BaseURL != "" {
		transport.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &http.Client{Transport: transport, Timeout: requestTimeout}, nil
}

// resolvePrivateKey returns PEM-encoded key bytes from either the provided
// raw or base64-encoded key, or from a file.
func resolvePrivateKey(key []byte, keyPath string) ([]byte, error) {
	if len(key) > 0 {
		s := strings.TrimSpace(string(key))
		if strings.HasPrefix(s, "-----BEGIN") {
			return []byte(s), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("private key is neither PEM nor valid base64: %w", err)
			}
		}
		return decoded, nil
	}

	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key file %s: %w", keyPath, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no private key provided: set private_key or private_key_path")
}
