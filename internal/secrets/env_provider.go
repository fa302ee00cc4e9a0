package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/virtualpainter/painter/internal/envutil"
)

// EnvProvider reads secrets from PAINTER_SECRET_<KEY> environment variables
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable secrets provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{
		prefix: envutil.Prefix + "SECRET_",
	}
}

// GetSecret maps key "redis_password" to PAINTER_SECRET_REDIS_PASSWORD
func (p *EnvProvider) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(p.prefix + strings.ToUpper(key))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Name returns the provider name
func (p *EnvProvider) Name() string {
	return "env"
}
