//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/config"
	"github.com/marmos91/nfsd/pkg/disk"
)

func localstackEndpoint() string {
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:4566"
}

// setupTestS3 creates a test bucket on Localstack (or another S3-compatible
// endpoint) and removes it with all its objects when the test ends.
func setupTestS3(t *testing.T, bucketName string) {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(localstackEndpoint())
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err, "is Localstack running on %s?", localstackEndpoint())

	t.Cleanup(func() {
		list, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		if list != nil {
			for _, obj := range list.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	})
}

// TestS3Driver_Integration drives the s3 share driver, built through the
// config factory exactly as nfsd builds it, against a real S3 API.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Driver_Integration(t *testing.T) {
	ctx := context.Background()
	bucket := fmt.Sprintf("nfsd-test-%d", time.Now().UnixNano())
	setupTestS3(t, bucket)

	d, err := config.CreateDisk(ctx, &config.ShareConfig{
		Name:   "objects",
		Driver: "s3",
		Options: map[string]any{
			"region":            "us-east-1",
			"bucket":            bucket,
			"key_prefix":        "exports/objects",
			"endpoint":          localstackEndpoint(),
			"access_key_id":     "test",
			"secret_access_key": "test",
			"max_retries":       3,
		},
	})
	require.NoError(t, err)

	payload := []byte("hello from nfsd")

	t.Run("write and read back", func(t *testing.T) {
		require.NoError(t, d.CreateDirectory(ctx, "/dir"))

		f, err := d.CreateFile(ctx, "/dir/hello.txt")
		require.NoError(t, err)
		_, err = f.WriteAt(ctx, payload, 0)
		require.NoError(t, err)
		require.NoError(t, f.Close(ctx))

		info, err := d.GetFileInformation(ctx, "/dir/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, uint64(len(payload)), info.Size)

		f, err = d.OpenFile(ctx, "/dir/hello.txt", true)
		require.NoError(t, err)
		defer f.Close(ctx)
		buf := make([]byte, 64)
		n, err := f.ReadAt(ctx, buf, 0)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
		}
		assert.Equal(t, payload, buf[:n])
	})

	t.Run("list", func(t *testing.T) {
		search, err := d.StartSearch(ctx, "/dir", "*")
		require.NoError(t, err)
		defer search.Close()

		var names []string
		for {
			fi, ok := search.Next()
			if !ok {
				break
			}
			names = append(names, fi.Name)
		}
		assert.Equal(t, []string{"hello.txt"}, names)
	})

	t.Run("rename and delete", func(t *testing.T) {
		require.NoError(t, d.RenameFile(ctx, "/dir/hello.txt", "/dir/renamed.txt"))

		st, err := d.FileExists(ctx, "/dir/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, disk.StatusNotExist, st)

		require.NoError(t, d.DeleteFile(ctx, "/dir/renamed.txt"))
		require.NoError(t, d.DeleteDirectory(ctx, "/dir"))
	})
}
