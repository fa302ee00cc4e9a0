// Package secrets resolves backend credentials that are kept out of the
// configuration file.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/virtualpainter/painter/internal/config"
	"github.com/virtualpainter/painter/internal/slogging"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrInvalidConfig  = errors.New("invalid secrets provider configuration")
)

// Provider defines the interface for secrets providers
type Provider interface {
	// GetSecret retrieves a secret value by its key.
	// Returns ErrSecretNotFound if the secret doesn't exist.
	GetSecret(ctx context.Context, key string) (string, error)

	// Name returns the provider's identifier (e.g., "env", "aws", "oci")
	Name() string
}

// Secret key names
const (
	KeyRedisPassword       = "redis_password"
	KeyPersistenceAPIToken = "persistence_api_token"
	KeySQLDSN              = "sql_dsn"
)

// NewProvider creates a secrets provider based on configuration.
// An empty provider falls back to environment variables.
func NewProvider(ctx context.Context, cfg config.SecretsConfig) (Provider, error) {
	logger := slogging.Get()

	switch cfg.Provider {
	case "", config.SecretsProviderEnv:
		return NewEnvProvider(), nil

	case config.SecretsProviderAWS:
		if cfg.AWSRegion == "" || cfg.AWSSecretName == "" {
			return nil, fmt.Errorf("%w: AWS secrets provider requires region and secret name", ErrInvalidConfig)
		}
		logger.Info("Initializing secrets provider: %s", cfg.Provider)
		return NewAWSProvider(ctx, cfg.AWSRegion, cfg.AWSSecretName)

	case config.SecretsProviderOCI:
		if cfg.OCICompartmentID == "" || cfg.OCIVaultID == "" {
			return nil, fmt.Errorf("%w: OCI secrets provider requires compartment ID and vault ID", ErrInvalidConfig)
		}
		logger.Info("Initializing secrets provider: %s", cfg.Provider)
		return NewOCIProvider(cfg.OCIVaultID, cfg.OCISecretName)

	default:
		return nil, fmt.Errorf("%w: unknown provider type: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// Apply fills backend credentials the configuration left empty. Values set
// in the file or the environment always win. Missing secrets are not an
// error; the backends run unauthenticated.
func Apply(ctx context.Context, p Provider, cfg *config.Config) error {
	targets := []struct {
		key  string
		dest *string
		used bool
	}{
		{KeyRedisPassword, &cfg.Persistence.Redis.Password, cfg.Persistence.Backend == config.BackendRedis},
		{KeyPersistenceAPIToken, &cfg.Persistence.APIToken, cfg.Persistence.Backend == config.BackendHTTP},
		{KeySQLDSN, &cfg.Persistence.SQL.DSN, cfg.Persistence.Backend == config.BackendSQL},
	}

	for _, t := range targets {
		if !t.used || *t.dest != "" {
			continue
		}
		value, err := p.GetSecret(ctx, t.key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to resolve %s from %s: %w", t.key, p.Name(), err)
		}
		*t.dest = value
		slogging.Get().Debug("Resolved %s from %s secrets provider", t.key, p.Name())
	}
	return nil
}
