package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"sheetsync/internal/domain"
)

// stringArg returns a required string argument.
func stringArg(args map[string]any, name string) (string, error) {
	v, _ := args[name].(string)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	return v, nil
}

// jsonArg parses a JSON-encoded string argument into target. Missing optional
// arguments leave target untouched.
func jsonArg(args map[string]any, name string, required bool, target any) error {
	raw, _ := args[name].(string)
	if raw == "" {
		if required {
			return fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", domain.ErrInvalidInput, name, err)
	}
	return nil
}
