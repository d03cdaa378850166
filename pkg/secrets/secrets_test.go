package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	values map[string]string
	calls  int
	err    error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*params.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestAWSSecretsManagerProvider(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{"settlement/WEBHOOK_SECRET": "whsec"}}
	p := newAWSProvider(fake, "settlement/", time.Minute)

	v, err := p.GetSecret(context.Background(), "WEBHOOK_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "whsec", v)

	// cached
	_, err = p.GetSecret(context.Background(), "WEBHOOK_SECRET")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)

	_, err = p.GetSecret(context.Background(), "JWT_SECRET")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestResolve(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "from-env")

	webhook := ""
	jwt := "already-set"
	missing := ""
	err := Resolve(context.Background(), NewEnvProvider(), map[string]*string{
		"WEBHOOK_SECRET":   &webhook,
		"JWT_SECRET":       &jwt,
		"NOT_CONFIGURED_X": &missing,
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env", webhook)
	assert.Equal(t, "already-set", jwt)
	assert.Empty(t, missing)

	failing := newAWSProvider(&fakeSecretsManager{err: errors.New("access denied")}, "", time.Minute)
	err = Resolve(context.Background(), failing, map[string]*string{"WEBHOOK_SECRET": new(string)})
	assert.Error(t, err)
}
