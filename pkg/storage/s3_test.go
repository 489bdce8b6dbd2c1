package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startLocalstack returns the S3 endpoint of a fresh localstack container
// and a client pointed at it, with bucket created.
func startLocalstack(t *testing.T, bucket string) (string, *s3.Client) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping localstack test in short mode")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "localstack/localstack:3",
		ExposedPorts: []string{"4566/tcp"},
		WaitingFor:   wait.ForListeningPort("4566/tcp").WithStartupTimeout(2 * time.Minute),
	}
	localstackContainer, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start localstack container")
	t.Cleanup(func() {
		if err := localstackContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate localstack container: %s", err)
		}
	})

	hostPort, err := localstackContainer.MappedPort(ctx, "4566/tcp")
	require.NoError(t, err)
	hostIP, err := localstackContainer.Host(ctx)
	require.NoError(t, err)
	endpoint := "http://" + hostIP + ":" + hostPort.Port()

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			})),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
		require.NoError(t, err, "Failed to create bucket")
	}

	return endpoint, client
}

func TestS3Source(t *testing.T) {
	const bucket, key = "fpv-flights", "2024/DJIG0001.osd"
	endpoint, client := startLocalstack(t, bucket)
	ctx := context.Background()

	data := bytes.Repeat([]byte("MSPOSD-record-"), 1000)
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	require.NoError(t, err, "Failed to upload test data to S3")

	opts := SourceOpts{
		Region:         "us-east-1",
		Endpoint:       endpoint,
		ForcePathStyle: true,
		Credentials:    S3SourceCredentials{AccessKey: "test", SecretKey: "test"},
	}

	t.Run("RangeReads", func(t *testing.T) {
		src, err := Open(ctx, "s3://"+bucket+"/"+key, opts)
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, int64(len(data)), src.Size())
		assert.Equal(t, "s3://"+bucket+"/"+key, src.Name())

		buf := make([]byte, 14)
		n, err := ReadFull(src, buf, 14*7)
		require.NoError(t, err)
		assert.Equal(t, 14, n)
		assert.Equal(t, "MSPOSD-record-", string(buf))

		n, err = src.ReadAt(buf, int64(len(data)-4))
		assert.Equal(t, 4, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("LocalCache", func(t *testing.T) {
		cachePath := filepath.Join(t.TempDir(), "DJIG0001.osd")
		s3opts := S3SourceOpts{
			Bucket:         bucket,
			Key:            key,
			Region:         "us-east-1",
			Endpoint:       endpoint,
			ForcePathStyle: true,
			AccessKey:      "test",
			SecretKey:      "test",
			CachePath:      cachePath,
		}
		src, err := NewS3Source(ctx, s3opts)
		require.NoError(t, err)
		defer src.Close()

		require.Eventually(t, src.CachedLocally, 30*time.Second, 100*time.Millisecond)

		cached, err := os.ReadFile(cachePath)
		require.NoError(t, err)
		assert.Equal(t, data, cached)

		buf := make([]byte, 6)
		_, err = ReadFull(src, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "MSPOSD", string(buf))
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := Open(ctx, "s3://"+bucket+"/missing.osd", opts)
		assert.ErrorContains(t, err, "cannot access object")
	})
}
