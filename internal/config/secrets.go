package config

import (
	"context"
	"os"
)

// SecretProvider resolves secret paths to plaintext values. Paths that do not
// resolve are left out of the result.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// EnvVarProvider resolves each key as an environment variable. It lets a
// developer point _SSM_PARAM variables at other local variables.
type EnvVarProvider struct{}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// ProviderFor picks the provider LoadConfig should use for APP_ENV.
func ProviderFor(appEnv, region string) SecretProvider {
	if appEnv == localEnv || appEnv == "" {
		return NewEnvVarProvider()
	}
	return NewSSMProvider(region)
}
