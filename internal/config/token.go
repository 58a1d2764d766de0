package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	tokenFileName = "api_token"
	tokenEnv      = "REELREC_API_TOKEN"
)

// ErrNoToken is returned by ReadAPIToken when the server has never created one.
var ErrNoToken = errors.New("no API token; start the server once to create it")

func tokenPath(dataDir string) string {
	return filepath.Join(dataDir, tokenFileName)
}

// ReadAPIToken returns the operator token the server accepts:
// REELREC_API_TOKEN when set, otherwise the one stored in dataDir.
func ReadAPIToken(dataDir string) (string, error) {
	if env := os.Getenv(tokenEnv); env != "" {
		return env, nil
	}
	return readTokenFile(dataDir)
}

func readTokenFile(dataDir string) (string, error) {
	data, err := os.ReadFile(tokenPath(dataDir))
	if os.IsNotExist(err) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// EnsureAPIToken returns the operator token, generating and storing one
// on first use. REELREC_API_TOKEN takes precedence when set.
func EnsureAPIToken(dataDir string) (string, error) {
	token, err := ReadAPIToken(dataDir)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNoToken) {
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	token = uuid.NewString()
	if err := os.WriteFile(tokenPath(dataDir), []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing API token: %w", err)
	}
	return token, nil
}
