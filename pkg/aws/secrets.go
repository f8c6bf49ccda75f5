package aws

import (
	"context"
	"encoding/json"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-faster/errors"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsClient reads key/value secrets stored as JSON objects.
type SecretsClient struct {
	api secretsAPI
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return &SecretsClient{api: secretsmanager.NewFromConfig(cfg)}
}

// GetSecretJSON reads the secret name and decodes it into a string map.
func (s *SecretsClient) GetSecretJSON(ctx context.Context, name string) (map[string]string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return nil, errors.Wrapf(err, "get secret %s", name)
	}
	if out.SecretString == nil {
		return nil, errors.Errorf("secret %s has no string value", name)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, errors.Wrapf(err, "secret %s is not a JSON object", name)
	}
	return values, nil
}
