package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"go.uber.org/zap"
)

// SecretsManagerAPI is the subset of the Secrets Manager client in use
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerConfig contains configuration for AWS Secrets Manager
type AWSSecretsManagerConfig struct {
	// AWS Region (e.g., "us-east-1")
	Region string

	// Optional: AWS profile name (local development)
	Profile string

	// Optional: custom endpoint (LocalStack)
	Endpoint string

	CacheTTL time.Duration
}

// AWSSecretsManager reads secrets from AWS Secrets Manager
type AWSSecretsManager struct {
	client SecretsManagerAPI
	logger *zap.Logger
	cache  *secretCache
}

var _ ports.SecretManager = (*AWSSecretsManager)(nil)

// NewAWSSecretsManager loads the default credential chain (IAM role in production)
func NewAWSSecretsManager(ctx context.Context, cfg *AWSSecretsManagerConfig, logger *zap.Logger) (*AWSSecretsManager, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsConfig, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("AWS Secrets Manager initialized",
		zap.String("region", cfg.Region),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)

	return NewAWSSecretsManagerWithClient(client, cfg.CacheTTL, logger), nil
}

// NewAWSSecretsManagerWithClient wraps an existing client
func NewAWSSecretsManagerWithClient(client SecretsManagerAPI, cacheTTL time.Duration, logger *zap.Logger) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: client,
		logger: logger,
		cache:  newSecretCache(cacheTTL),
	}
}

// GetSecret retrieves "name" or "name#field", where field selects a key of a
// JSON secret string. Name may also be a full ARN.
func (a *AWSSecretsManager) GetSecret(ctx context.Context, key string) (*ports.Secret, error) {
	if cached := a.cache.get(key); cached != nil {
		a.logger.Debug("Secret retrieved from cache", zap.String("path", key))
		return cached, nil
	}

	name, field := splitKey(key)
	if name == "" {
		return nil, domain.NewValidationError("secret name is required")
	}

	start := time.Now()
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, domain.WrapError(domain.ErrorCodeNotFound, "secret not found", err).
				WithDetail("path", name)
		}
		a.logger.Error("Failed to retrieve secret",
			zap.String("path", name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get secret %s: %w", name, err)
	}

	value := aws.ToString(result.SecretString)
	if field != "" {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(value), &doc); err != nil {
			return nil, fmt.Errorf("secret %s is not a JSON document: %w", name, err)
		}
		if value, err = pickField(doc, field, name); err != nil {
			return nil, err
		}
	}

	secret := &ports.Secret{
		Value:    value,
		Version:  aws.ToString(result.VersionId),
		Metadata: make(map[string]string),
	}
	if result.CreatedDate != nil {
		secret.CreatedAt = result.CreatedDate.Format(time.RFC3339)
	}
	if result.ARN != nil {
		secret.Metadata["arn"] = *result.ARN
	}
	if result.Name != nil {
		secret.Metadata["name"] = *result.Name
	}

	a.logger.Debug("Secret retrieved from AWS Secrets Manager",
		zap.String("path", name),
		zap.Duration("elapsed", time.Since(start)),
	)

	a.cache.set(key, secret)
	return secret, nil
}
