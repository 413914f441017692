package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerConfig configures [NewSecretsManagerStore]. Static credentials
// are optional; the default AWS credential chain is used when they are empty.
type SecretsManagerConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// SecretsManagerStore keeps secrets as SecretString values in AWS Secrets Manager.
type SecretsManagerStore struct {
	api    secretsManagerAPI
	prefix string
}

func NewSecretsManagerStore(ctx context.Context, cfg SecretsManagerConfig) (*SecretsManagerStore, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newSecretsManagerStore(client, cfg.Prefix), nil
}

func newSecretsManagerStore(api secretsManagerAPI, prefix string) *SecretsManagerStore {
	return &SecretsManagerStore{api: api, prefix: prefix}
}

func (s *SecretsManagerStore) id(name string) string {
	return s.prefix + name
}

func (s *SecretsManagerStore) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.id(name)),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("secretsmanager get %s: %w", name, err)
	}
	value := aws.ToString(out.SecretString)
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// PutSecret writes a new version, creating the secret on first use.
func (s *SecretsManagerStore) PutSecret(ctx context.Context, name, value string) error {
	_, err := s.api.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.id(name)),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}

	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return fmt.Errorf("secretsmanager put %s: %w", name, err)
	}
	if _, err := s.api.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(s.id(name)),
		SecretString: aws.String(value),
	}); err != nil {
		return fmt.Errorf("secretsmanager create %s: %w", name, err)
	}
	return nil
}
