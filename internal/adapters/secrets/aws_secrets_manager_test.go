package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSecretsManager struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	ids []string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.ids = append(f.ids, aws.ToString(in.SecretId))
	return f.out, f.err
}

func TestAWSSecretsManager_GetSecret(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{
		ARN:          aws.String("arn:aws:secretsmanager:us-east-1:1:secret:escrow/cron"),
		Name:         aws.String("escrow/cron"),
		SecretString: aws.String("s3cret"),
		VersionId:    aws.String("v7"),
		CreatedDate:  &created,
	}}
	a := &awsSecretsManagerAdapter{client: fake, logger: zap.NewNop()}

	secret, err := a.GetSecret(context.Background(), "escrow/cron")
	require.NoError(t, err)
	assert.Equal(t, []string{"escrow/cron"}, fake.ids)
	assert.Equal(t, "s3cret", secret.Value)
	assert.Equal(t, "v7", secret.Version)
	assert.Equal(t, "2025-01-01T00:00:00Z", secret.CreatedAt)
	assert.Equal(t, "escrow/cron", secret.Metadata["name"])
}

func TestAWSSecretsManager_NotFound(t *testing.T) {
	fake := &fakeSecretsManager{err: &types.ResourceNotFoundException{Message: aws.String("no such secret")}}
	a := &awsSecretsManagerAdapter{client: fake, logger: zap.NewNop()}

	_, err := a.GetSecret(context.Background(), "escrow/missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
