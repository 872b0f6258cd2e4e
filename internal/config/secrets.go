package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/sirupsen/logrus"
)

// SecretFetcher returns the string value of a named secret.
type SecretFetcher func(ctx context.Context, name string) (string, error)

// secretPayload is the JSON layout of the application secret. A secret
// that is not JSON is used verbatim for every field requested.
type secretPayload struct {
	JWTSecret     string `json:"jwt_secret"`
	RedisPassword string `json:"redis_password"`
}

// ResolveSecrets replaces the JWT secret and the Redis password with the
// values stored in AWS_SECRET_NAME when the matching *_FROM_SECRETS flag is
// set.
func ResolveSecrets(ctx context.Context, cfg *Config, fetch SecretFetcher, logger *logrus.Logger) error {
	if !cfg.JWT.SecretFromSecrets && !cfg.Redis.PasswordFromSecrets {
		return nil
	}
	if cfg.AWS.SecretName == "" {
		return errors.New("AWS_SECRET_NAME is required when reading secrets")
	}

	raw, err := fetch(ctx, cfg.AWS.SecretName)
	if err != nil {
		return err
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		payload = secretPayload{JWTSecret: raw, RedisPassword: raw}
	}

	if cfg.JWT.SecretFromSecrets {
		if payload.JWTSecret == "" {
			return fmt.Errorf("secret '%s' has no jwt_secret", cfg.AWS.SecretName)
		}
		cfg.JWT.Secret = payload.JWTSecret
		logger.Info("JWT secret fetched from AWS Secrets Manager")
	}
	if cfg.Redis.PasswordFromSecrets {
		cfg.Redis.Password = payload.RedisPassword
		logger.Info("Redis password fetched from AWS Secrets Manager")
	}
	return nil
}

// AWSSecretFetcher reads secrets from AWS Secrets Manager.
func AWSSecretFetcher(awsCfg AWSConfig) SecretFetcher {
	return func(ctx context.Context, name string) (string, error) {
		sessConfig := &aws.Config{
			Region: aws.String(awsCfg.Region),
		}
		if awsCfg.Profile != "" {
			sessConfig.Credentials = credentials.NewSharedCredentials("", awsCfg.Profile)
			sessConfig.WithCredentialsChainVerboseErrors(true)
		}

		sess, err := session.NewSession(sessConfig)
		if err != nil {
			return "", fmt.Errorf("failed to create AWS session: %w", err)
		}

		svc := secretsmanager.New(sess)
		result, err := svc.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return "", fmt.Errorf("failed to retrieve secret '%s': %w", name, err)
		}
		if result.SecretString == nil {
			return "", fmt.Errorf("secret '%s' has no string value", name)
		}
		return *result.SecretString, nil
	}
}
