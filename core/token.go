package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateResumeToken returns an unguessable URL-safe capability token. The
// token is the sole authorization for resuming a suspended bundle.
func GenerateResumeToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate resume token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
