// Package authtoken manages the shared-secret token file that gates access
// to the daemon. The daemon generates the token on first start; clients
// read the same file and can watch it for rotation.
package authtoken

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/b/termlink/pkg/paths"
)

// DefaultPath is the token file under the state directory.
func DefaultPath() string {
	return paths.StatePath("token")
}

// Load reads a token file. Returns an error for a missing or empty file.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("authtoken: read %s: %w", path, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("authtoken: %s is empty", path)
	}
	return token, nil
}

// LoadOrGenerate reads the token file, generating a fresh token when the
// file is missing or empty.
func LoadOrGenerate(path string) (string, error) {
	if token, err := Load(path); err == nil {
		return token, nil
	}
	return Regenerate(path)
}

// Regenerate writes a fresh random token, replacing any existing one.
func Regenerate(path string) (string, error) {
	token, err := generate()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("authtoken: create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("authtoken: write %s: %w", path, err)
	}
	return token, nil
}

func generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authtoken: entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
