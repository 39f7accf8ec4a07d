package secret

import (
	"fmt"
	"os"
	"strings"
)

// SecretStore holds credentials that should not sit in the config file, such
// as the table store's password.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Resolve turns a config reference into a value:
//
//	env:NAME       the environment variable NAME
//	keychain:KEY   KEY from the keychain store
//	anything else  the literal value
//
// A reference that names a missing secret is an error, so a typo does not
// silently connect with an empty password.
func Resolve(ref string, keychain SecretStore) (string, error) {
	scheme, key, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, nil
	}
	switch scheme {
	case "env":
		v, found := os.LookupEnv(key)
		if !found {
			return "", fmt.Errorf("secret %q: environment variable not set", ref)
		}
		return v, nil
	case "keychain":
		if keychain == nil {
			return "", fmt.Errorf("secret %q: no keychain available", ref)
		}
		v, err := keychain.Get(key)
		if err != nil {
			return "", fmt.Errorf("secret %q: %w", ref, err)
		}
		if len(v) == 0 {
			return "", fmt.Errorf("secret %q: not found", ref)
		}
		return string(v), nil
	}
	return ref, nil
}

// MemoryStore is an in-process SecretStore.
type MemoryStore map[string][]byte

func (m MemoryStore) Set(key string, value []byte) error {
	m[key] = append([]byte(nil), value...)
	return nil
}

func (m MemoryStore) Get(key string) ([]byte, error) { return m[key], nil }

func (m MemoryStore) Delete(key string) error {
	delete(m, key)
	return nil
}
