package ports

import (
	"context"
)

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string            // The secret value (e.g., API key, webhook signing secret)
	Version   string            // Secret version identifier
	Metadata  map[string]string // Additional secret metadata
	CreatedAt string            // When this version was created
}

// SecretManager retrieves secrets from a secret management service.
// Backends: AWS Secrets Manager, HashiCorp Vault, local filesystem (development).
// Implementations cache values with a TTL.
type SecretManager interface {
	// GetSecret retrieves a secret by its path/name
	// Path format depends on implementation:
	//   - AWS: "subscription-service/stripe/api_key"
	//   - Vault: "subscription-service/stripe" (under the configured KV mount)
	//   - Local: file path relative to the base directory
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
