package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/oracle/oci-go-sdk/v65/common"
	ocisecrets "github.com/oracle/oci-go-sdk/v65/secrets"

	"github.com/virtualpainter/painter/internal/slogging"
)

type secretBundleGetter interface {
	GetSecretBundleByName(ctx context.Context, request ocisecrets.GetSecretBundleByNameRequest) (ocisecrets.GetSecretBundleByNameResponse, error)
}

// OCIProvider retrieves secrets from OCI Vault. With a secret name every key
// is read from that one JSON secret; otherwise each key names its own secret.
type OCIProvider struct {
	client     secretBundleGetter
	vaultID    string
	secretName string

	cacheMu sync.Mutex
	cache   map[string]string
}

// NewOCIProvider creates a new OCI Vault secrets provider using the default
// OCI configuration chain (~/.oci/config or instance principal)
func NewOCIProvider(vaultID, secretName string) (*OCIProvider, error) {
	client, err := ocisecrets.NewSecretsClientWithConfigurationProvider(common.DefaultConfigProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create OCI secrets client: %w", err)
	}

	slogging.Get().Info("OCI Vault secrets provider initialized for vault: %s", vaultID)
	return newOCIProvider(client, vaultID, secretName), nil
}

func newOCIProvider(client secretBundleGetter, vaultID, secretName string) *OCIProvider {
	return &OCIProvider{client: client, vaultID: vaultID, secretName: secretName}
}

// GetSecret retrieves a secret value by key
func (p *OCIProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if p.secretName == "" {
		raw, err := p.bundle(ctx, key)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	if p.cache == nil {
		raw, err := p.bundle(ctx, p.secretName)
		if err != nil {
			return "", err
		}
		var values map[string]string
		if err := json.Unmarshal(raw, &values); err != nil {
			return "", fmt.Errorf("failed to parse OCI secret as JSON: %w", err)
		}
		if values == nil {
			values = map[string]string{}
		}
		p.cache = values
		slogging.Get().Info("Loaded %d secrets from OCI Vault", len(values))
	}

	value, ok := p.cache[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Name returns the provider name
func (p *OCIProvider) Name() string {
	return "oci"
}

// bundle fetches and decodes the current version of the named secret
func (p *OCIProvider) bundle(ctx context.Context, name string) ([]byte, error) {
	response, err := p.client.GetSecretBundleByName(ctx, ocisecrets.GetSecretBundleByNameRequest{
		SecretName: new(name),
		VaultId:    new(p.vaultID),
	})
	if err != nil {
		if failure, ok := common.IsServiceError(err); ok && failure.GetHTTPStatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%w: OCI secret '%s'", ErrSecretNotFound, name)
		}
		return nil, fmt.Errorf("failed to get OCI secret bundle for %s: %w", name, err)
	}

	content, ok := response.SecretBundleContent.(ocisecrets.Base64SecretBundleContentDetails)
	if !ok || content.Content == nil {
		return nil, fmt.Errorf("unexpected secret content type for %s", name)
	}

	decoded, err := base64.StdEncoding.DecodeString(*content.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret content for %s: %w", name, err)
	}
	return decoded, nil
}
