package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"go.uber.org/zap"
)

// VaultConfig contains configuration for the HashiCorp Vault secret manager
type VaultConfig struct {
	// HTTPClient overrides the transport (tests, custom TLS)
	HTTPClient *http.Client

	// Vault server address (e.g., "https://vault.example.com:8200")
	Address string

	// Authentication method: "token" or "approle"
	AuthMethod string

	Token    string
	RoleID   string
	SecretID string

	// Vault namespace (Vault Enterprise)
	Namespace string

	// KV secrets engine mount path (default: "secret")
	MountPath string

	// KV version: "v1" or "v2" (default: "v2")
	KVVersion string

	CacheTTL time.Duration

	TLSSkipVerify bool
}

// DefaultVaultConfig returns token auth against a KV v2 mount at "secret"
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:    address,
		AuthMethod: "token",
		MountPath:  "secret",
		KVVersion:  "v2",
		CacheTTL:   DefaultCacheTTL,
	}
}

// VaultSecretManager reads secrets from a Vault KV engine
type VaultSecretManager struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger
	cache  *secretCache
}

var _ ports.SecretManager = (*VaultSecretManager)(nil)

// NewVaultSecretManager creates the client and authenticates it
func NewVaultSecretManager(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (*VaultSecretManager, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.KVVersion == "" {
		cfg.KVVersion = "v2"
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.HTTPClient != nil {
		vaultConfig.HttpClient = cfg.HTTPClient
	}

	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault secret manager initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
		zap.String("kv_version", cfg.KVVersion),
	)

	return &VaultSecretManager{
		client: client,
		config: cfg,
		logger: logger,
		cache:  newSecretCache(cfg.CacheTTL),
	}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg *VaultConfig) error {
	switch cfg.AuthMethod {
	case "", "token":
		if cfg.Token == "" {
			return errors.New("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return errors.New("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return errors.New("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret reads "path" or "path#field" from the configured mount
func (v *VaultSecretManager) GetSecret(ctx context.Context, key string) (*ports.Secret, error) {
	if cached := v.cache.get(key); cached != nil {
		v.logger.Debug("Secret retrieved from cache", zap.String("path", key))
		return cached, nil
	}

	path, field := splitKey(key)
	if path == "" {
		return nil, domain.NewValidationError("secret path is required")
	}

	fullPath := fmt.Sprintf("%s/%s", v.config.MountPath, path)
	if v.config.KVVersion == "v2" {
		fullPath = fmt.Sprintf("%s/data/%s", v.config.MountPath, path)
	}

	start := time.Now()
	resp, err := v.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		v.logger.Error("Failed to read secret from Vault",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to read secret %s: %w", path, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeNotFound, "secret not found").
			WithDetail("path", path)
	}

	data := resp.Data
	secret := &ports.Secret{Version: "v1"}
	if v.config.KVVersion == "v2" {
		inner, ok := resp.Data["data"].(map[string]interface{})
		if !ok {
			return nil, domain.NewDomainError(domain.ErrorCodeNotFound, "secret not found").
				WithDetail("path", path)
		}
		data = inner
		if meta, ok := resp.Data["metadata"].(map[string]interface{}); ok {
			secret.Version = stringify(meta["version"])
			secret.CreatedAt = stringify(meta["created_time"])
		}
	}

	value, err := pickField(data, field, path)
	if err != nil {
		return nil, err
	}
	secret.Value = value
	secret.Metadata = stringMetadata(data, field)

	v.logger.Debug("Secret retrieved from Vault",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)),
	)

	v.cache.set(key, secret)
	return secret, nil
}
