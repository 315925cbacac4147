package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/adapters/secrets"
	"github.com/kevin07696/subscription-service/internal/config"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// initSecretManager picks the backend named by SECRETS_BACKEND. The env
// backend needs no manager: credentials are used as loaded.
func initSecretManager(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Backend {
	case config.SecretsVault:
		vcfg := secrets.DefaultVaultConfig(cfg.VaultAddress)
		vcfg.AuthMethod = cfg.VaultAuthMethod
		vcfg.Token = cfg.VaultToken
		vcfg.RoleID = cfg.VaultRoleID
		vcfg.SecretID = cfg.VaultSecretID
		vcfg.Namespace = cfg.VaultNamespace
		vcfg.MountPath = cfg.VaultMountPath
		vcfg.KVVersion = cfg.VaultKVVersion
		vcfg.CacheTTL = cfg.CacheTTL

		logger.Info("Using HashiCorp Vault for secrets",
			zap.String("address", cfg.VaultAddress),
			zap.String("auth_method", cfg.VaultAuthMethod),
		)
		return secrets.NewVaultSecretManager(ctx, vcfg, logger)

	case config.SecretsAWS:
		logger.Info("Using AWS Secrets Manager for secrets",
			zap.String("region", cfg.AWSRegion),
		)
		return secrets.NewAWSSecretsManager(ctx, &secrets.AWSSecretsManagerConfig{
			Region:   cfg.AWSRegion,
			Profile:  cfg.AWSProfile,
			Endpoint: cfg.AWSEndpoint,
			CacheTTL: cfg.CacheTTL,
		}, logger)

	case config.SecretsLocal:
		logger.Warn("Using local file secrets - development only",
			zap.String("path", cfg.LocalPath),
		)
		return secrets.NewLocalSecretManager(cfg.LocalPath, logger), nil

	case config.SecretsEnv, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// resolveSecrets overwrites credentials whose secret path is configured
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	manager, err := initSecretManager(ctx, cfg.Secrets, logger)
	if err != nil {
		return fmt.Errorf("init secret manager: %w", err)
	}
	if manager == nil {
		return nil
	}

	s := cfg.Secrets
	return secrets.Resolve(ctx, manager,
		secrets.Ref{Target: &cfg.Gateways.Stripe.APIKey, Path: s.StripeAPIKeyPath},
		secrets.Ref{Target: &cfg.Gateways.Stripe.WebhookSecret, Path: s.StripeWebhookSecretPath},
		secrets.Ref{Target: &cfg.Gateways.Razorpay.KeySecret, Path: s.RazorpayKeySecretPath},
		secrets.Ref{Target: &cfg.Gateways.Razorpay.WebhookSecret, Path: s.RazorpayWebhookSecretPath},
		secrets.Ref{Target: &cfg.Gateways.PayPal.ClientSecret, Path: s.PayPalClientSecretPath},
		secrets.Ref{Target: &cfg.Notifications.PostmarkServerToken, Path: s.PostmarkServerTokenPath},
		secrets.Ref{Target: &cfg.Notifications.WebhookSecret, Path: s.WebhookSigningSecretPath},
		secrets.Ref{Target: &cfg.Cron.Secret, Path: s.CronSecretPath},
	)
}
