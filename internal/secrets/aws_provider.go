package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/virtualpainter/painter/internal/slogging"
)

type secretValueGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider retrieves secrets from AWS Secrets Manager.
// All keys live in one secret whose value is a JSON object.
type AWSProvider struct {
	client     secretValueGetter
	secretName string

	cacheMu sync.Mutex
	cache   map[string]string
}

// NewAWSProvider creates a new AWS Secrets Manager provider
func NewAWSProvider(ctx context.Context, region, secretName string) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	slogging.Get().Info("AWS Secrets Manager provider initialized for secret: %s in region: %s", secretName, region)
	return newAWSProvider(secretsmanager.NewFromConfig(cfg), secretName), nil
}

func newAWSProvider(client secretValueGetter, secretName string) *AWSProvider {
	return &AWSProvider{client: client, secretName: secretName}
}

// GetSecret retrieves one key of the JSON secret. The secret is fetched once.
func (p *AWSProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	if p.cache == nil {
		values, err := p.load(ctx)
		if err != nil {
			return "", err
		}
		p.cache = values
	}

	value, ok := p.cache[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Name returns the provider name
func (p *AWSProvider) Name() string {
	return "aws"
}

func (p *AWSProvider) load(ctx context.Context) (map[string]string, error) {
	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: AWS secret '%s' not found", ErrSecretNotFound, p.secretName)
		}
		return nil, fmt.Errorf("failed to retrieve AWS secret: %w", err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("AWS secret '%s' has no string value", p.secretName)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		return nil, fmt.Errorf("failed to parse AWS secret as JSON: %w", err)
	}
	if values == nil {
		values = map[string]string{}
	}

	slogging.Get().Info("Loaded %d secrets from AWS Secrets Manager", len(values))
	return values, nil
}
