//go:build integration

package account

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestClientPutGetDeleteAgainstMinIO(t *testing.T) {
	ctx := context.Background()

	container, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	bucket := "tgfs-test"

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(container.Username, container.Password, "")),
	)
	require.NoError(t, err)
	setupClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("http://" + endpoint)
		o.UsePathStyle = true
	})
	_, err = setupClient.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	client, err := NewClient(ctx, BackendConfig{
		ID:        1,
		Provider:  "minio",
		Region:    "us-east-1",
		Endpoint:  "http://" + endpoint,
		Bucket:    bucket,
		AccessKey: container.Username,
		SecretKey: container.Password,
	})
	require.NoError(t, err)

	key := "chunks/test-block"
	data := []byte("integration test block contents")

	require.NoError(t, client.PutBlock(ctx, key, data))

	got, err := client.GetBlock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	found, err := client.HeadBlock(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, client.DeleteBlock(ctx, key))

	found, err = client.HeadBlock(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}
