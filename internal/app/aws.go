package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/Artifique/Agrilend-Backend/internal/config"
)

// AWSClients are the service clients built from one shared AWS configuration
type AWSClients struct {
	S3  *s3.Client
	SES *sesv2.Client
	SNS *sns.Client
}

// LoadAWSConfig resolves region and credentials. Static keys win over the default chain.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}

// NewAWSClients builds the S3, SES and SNS clients. A custom endpoint forces path-style S3 addressing.
func NewAWSClients(awsCfg aws.Config, cfg config.AWSConfig) *AWSClients {
	return &AWSClients{
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.Endpoint != ""
		}),
		SES: sesv2.NewFromConfig(awsCfg),
		SNS: sns.NewFromConfig(awsCfg),
	}
}
