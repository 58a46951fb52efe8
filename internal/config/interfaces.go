package config

import "context"

// SecretProvider resolves parameter paths to plaintext values. SSMProvider
// serves deployed environments; EnvVarProvider serves local runs and tests.
type SecretProvider interface {
	// GetParametersBatch returns path -> plaintext for every path it could
	// resolve. Paths it could not find are omitted or reported as an error,
	// depending on the implementation.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
