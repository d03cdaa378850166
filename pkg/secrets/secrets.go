// Package secrets resolves sensitive configuration values at startup.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrSecretNotFound is returned when a provider has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// Provider reads secrets by key.
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvProvider reads secrets from the process environment.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// Resolve fills each target that is still empty with the provider's value for
// its key. Missing secrets are left empty; configuration validation decides
// whether that is fatal.
func Resolve(ctx context.Context, provider Provider, targets map[string]*string) error {
	for key, target := range targets {
		if target == nil || *target != "" {
			continue
		}
		value, err := provider.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve %s: %w", key, err)
		}
		*target = value
	}
	return nil
}
