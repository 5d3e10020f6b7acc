package tokenizer

import (
	"fmt"
	"strings"
)

// IntentIDFromSecret derives the intent ID from a client secret. Secrets are
// shaped "<intent id>_secret_<nonce>"; only the ID part is needed for the
// client-side status query.
func IntentIDFromSecret(clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret")
	if !ok || id == "" {
		return "", fmt.Errorf("malformed client secret")
	}
	return id, nil
}
