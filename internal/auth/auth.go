// Package auth supplies the bearer token attached to broker connections.
//
// Tokens are owned by the login flow, which persists them to a credential
// store; this package only reads them.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenSource returns the current bearer token. An empty token with a nil
// error means no credential is available and the connection is anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a fixed token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// EnvToken reads the token from an environment variable on every call.
type EnvToken string

// Token implements TokenSource.
func (e EnvToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// StoredCredentials is the credential file written by the login flow.
type StoredCredentials struct {
	AuthToken    string          `json:"auth_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
}

// FileToken reads the token persisted at Path. The file holds either the bare
// token or a StoredCredentials JSON document. A missing file means no token.
type FileToken struct {
	Path string
}

// Token implements TokenSource.
func (f FileToken) Token(context.Context) (string, error) {
	creds, err := LoadCredentials(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return creds.AuthToken, nil
}

// LoadCredentials reads a persisted credential file.
func LoadCredentials(path string) (*StoredCredentials, error) {
	if path == "" {
		return nil, fmt.Errorf("credential file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &StoredCredentials{}, nil
	}

	// Plain token file
	if data[0] != '{' {
		return &StoredCredentials{AuthToken: string(data)}, nil
	}

	var creds StoredCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	creds.AuthToken = strings.TrimSpace(creds.AuthToken)
	return &creds, nil
}
