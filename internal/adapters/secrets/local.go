package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"go.uber.org/zap"
)

// LocalSecretManager reads secrets from files under a base directory.
// WARNING: development only. Use Vault or AWS Secrets Manager in production.
//
// A file holds either the raw secret or a JSON document:
//
//	{"value": "sk_test_...", "version": "3", "tags": {"owner": "billing"}}
type LocalSecretManager struct {
	basePath string
	logger   *zap.Logger
}

var _ ports.SecretManager = (*LocalSecretManager)(nil)

// NewLocalSecretManager creates a secret manager rooted at basePath
func NewLocalSecretManager(basePath string, logger *zap.Logger) *LocalSecretManager {
	return &LocalSecretManager{basePath: basePath, logger: logger}
}

type localSecretFile struct {
	Tags      map[string]string `json:"tags"`
	Value     string            `json:"value"`
	Version   string            `json:"version"`
	CreatedAt string            `json:"created_at"`
}

// GetSecret reads basePath/secretPath. Paths escaping the base directory are rejected.
func (m *LocalSecretManager) GetSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	clean := filepath.Clean(secretPath)
	if secretPath == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid secret path %q", secretPath))
	}

	m.logger.Debug("Reading secret from filesystem", zap.String("path", clean))

	data, err := os.ReadFile(filepath.Join(m.basePath, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewDomainError(domain.ErrorCodeNotFound, "secret not found").
				WithDetail("path", secretPath)
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", secretPath, err)
	}

	var file localSecretFile
	if err := json.Unmarshal(data, &file); err == nil && file.Value != "" {
		version := file.Version
		if version == "" {
			version = "v1"
		}
		return &ports.Secret{
			Value:     file.Value,
			Version:   version,
			Metadata:  file.Tags,
			CreatedAt: file.CreatedAt,
		}, nil
	}

	return &ports.Secret{
		Value:   strings.TrimRight(string(data), "\r\n"),
		Version: "v1",
	}, nil
}
