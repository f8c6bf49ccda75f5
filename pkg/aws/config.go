package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/samber/lo"
)

// localStackKey is accepted by LocalStack for both key id and secret.
const localStackKey = "test"

// LoadAWSConfig loads the default AWS config. A non-empty endpoint (LocalStack)
// overrides the base endpoint of every client built from the returned config
// and signs with static keys, falling back to LocalStack's dummy pair.
func LoadAWSConfig(ctx context.Context, region, endpoint string) (sdkaws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if endpoint != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			lo.CoalesceOrEmpty(os.Getenv("AWS_ACCESS_KEY_ID"), localStackKey),
			lo.CoalesceOrEmpty(os.Getenv("AWS_SECRET_ACCESS_KEY"), localStackKey),
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}

	if endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(endpoint)
	}
	return cfg, nil
}
