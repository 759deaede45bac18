package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GetAPIToken returns the bearer token the browser extension must present
// on the local HTTP API. The token is minted on first use and kept in the
// platform secret store.
func GetAPIToken() (string, error) {
	if out, err := keychainExec(keychainService, "api_token"); err == nil {
		if tok := strings.TrimSpace(string(out)); tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := keychainSet(keychainService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
