// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"omniflow/platform/connectors/base"
)

// KeySource resolves the raw AES key at startup. Implementations read
// from the environment for development and from AWS Secrets Manager in
// managed deployments.
type KeySource interface {
	Key(ctx context.Context) ([]byte, error)
}

// EnvKeySource reads a hex-encoded key from an environment variable.
type EnvKeySource struct {
	// Var is the environment variable name. Defaults to
	// TOKEN_ENCRYPTION_KEY when empty.
	Var string
}

// Key decodes the hex key from the environment.
func (s EnvKeySource) Key(ctx context.Context) ([]byte, error) {
	name := s.Var
	if name == "" {
		name = "TOKEN_ENCRYPTION_KEY"
	}

	raw := os.Getenv(name)
	if raw == "" {
		return nil, &base.ConfigError{Field: name, Message: "not set"}
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, &base.ConfigError{Field: name, Message: "must be hex encoded"}
	}
	if len(key) != KeySize {
		return nil, &base.ConfigError{Field: name, Message: fmt.Sprintf("must decode to %d bytes, got %d", KeySize, len(key))}
	}
	return key, nil
}

// AWSKeySource fetches the key from AWS Secrets Manager. The secret
// value is either a bare hex string or a JSON object with a
// "token_encryption_key" field.
type AWSKeySource struct {
	SecretARN string
	Region    string
	Logger    *log.Logger

	// client overrides the AWS client in tests.
	client secretsClient
}

type secretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Key fetches and decodes the key from Secrets Manager.
func (s *AWSKeySource) Key(ctx context.Context) ([]byte, error) {
	logger := s.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[VAULT] ", log.LstdFlags)
	}

	client := s.client
	if client == nil {
		cfgOpts := []func(*awsconfig.LoadOptions) error{}
		if s.Region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(s.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client = secretsmanager.NewFromConfig(cfg)
	}

	logger.Printf("Fetching encryption key %s from AWS Secrets Manager", maskARN(s.SecretARN))

	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", maskARN(s.SecretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(s.SecretARN))
	}

	hexKey := *result.SecretString
	var fields map[string]string
	if err := json.Unmarshal([]byte(hexKey), &fields); err == nil {
		if v, ok := fields["token_encryption_key"]; ok {
			hexKey = v
		}
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, &base.ConfigError{Field: "token_encryption_key", Message: "secret value must be hex encoded"}
	}
	if len(key) != KeySize {
		return nil, &base.ConfigError{Field: "token_encryption_key", Message: fmt.Sprintf("must decode to %d bytes, got %d", KeySize, len(key))}
	}

	logger.Printf("Loaded encryption key from %s", maskARN(s.SecretARN))
	return key, nil
}

// maskARN masks the secret ARN for logging (shows only last 8 characters).
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}
