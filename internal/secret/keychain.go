package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "sheetsync"

// KeychainStore implements SecretStore using the macOS Keychain
// via the `security` CLI tool.
type KeychainStore struct {
	service string
}

// NewKeychainStore creates a KeychainStore under the sheetsync service name.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: keychainService}
}

// Set stores a secret, replacing any existing entry.
func (k *KeychainStore) Set(key string, value []byte) error {
	cmd := exec.Command("security", "add-generic-password",
		"-a", key,
		"-s", k.service,
		"-w", string(value),
		"-U", // update if exists
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain set: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Get retrieves a secret. A missing item returns nil, nil.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	cmd := exec.Command("security", "find-generic-password",
		"-a", key,
		"-s", k.service,
		"-w", // output only the password
	)
	out, err := cmd.Output()
	if err != nil {
		// 44: item not found
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes a secret. Deleting a missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	cmd := exec.Command("security", "delete-generic-password",
		"-a", key,
		"-s", k.service,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil
		}
		return fmt.Errorf("keychain delete: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
