package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/disk"
)

// fakeS3 is an in-memory bucket with just enough S3 semantics for the driver.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src := aws.ToString(in.CopySource)
	src = src[strings.Index(src, "/")+1:]
	src, err := url.PathUnescape(src)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), data...)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	commons := make(map[string]bool)

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				commons[prefix+rest[:i+1]] = true
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	for p := range commons {
		out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(p)})
	}
	return out, nil
}

func newTestDriver(t *testing.T) (*Driver, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	d, err := New(context.Background(), Config{Client: fake, Bucket: "bucket", KeyPrefix: "exports/docs"})
	require.NoError(t, err)
	return d, fake
}

func TestFilesAndDirectories(t *testing.T) {
	ctx := context.Background()
	d, fake := newTestDriver(t)

	require.NoError(t, d.CreateDirectory(ctx, "/reports"))
	assert.Contains(t, fake.objects, "exports/docs/reports/")

	f, err := d.CreateFile(ctx, "/reports/q1.txt")
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte("numbers"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))
	assert.Equal(t, "numbers", string(fake.objects["exports/docs/reports/q1.txt"]))

	status, err := d.FileExists(ctx, "/reports")
	require.NoError(t, err)
	assert.Equal(t, disk.StatusDirectory, status)

	info, err := d.GetFileInformation(ctx, "/reports/q1.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), info.Size)
	assert.Equal(t, fileID("/reports/q1.txt"), info.FileID)

	root, err := d.GetFileInformation(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), root.FileID)
	assert.True(t, root.IsDirectory())

	_, err = d.CreateFile(ctx, "/missing/x")
	assert.ErrorIs(t, err, disk.ErrNotFound)
	_, err = d.CreateFile(ctx, "/reports/q1.txt")
	assert.ErrorIs(t, err, disk.ErrExists)
	assert.ErrorIs(t, d.DeleteDirectory(ctx, "/reports"), disk.ErrNotEmpty)
}

func TestReadBack(t *testing.T) {
	ctx := context.Background()
	d, fake := newTestDriver(t)
	fake.objects["exports/docs/a"] = []byte("abcdef")

	f, err := d.OpenFile(ctx, "/a", true)
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err := f.ReadAt(ctx, buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "bcd", string(buf[:n]))

	n, err = f.ReadAt(ctx, buf, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ef", string(buf[:n]))

	_, err = f.WriteAt(ctx, []byte("x"), 0)
	assert.ErrorIs(t, err, disk.ErrReadOnly)
}

func TestRenameDirectory(t *testing.T) {
	ctx := context.Background()
	d, fake := newTestDriver(t)

	require.NoError(t, d.CreateDirectory(ctx, "/old"))
	f, err := d.CreateFile(ctx, "/old/f")
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	require.NoError(t, d.RenameFile(ctx, "/old", "/new"))
	assert.NotContains(t, fake.objects, "exports/docs/old/")
	assert.NotContains(t, fake.objects, "exports/docs/old/f")
	assert.Contains(t, fake.objects, "exports/docs/new/")
	assert.Contains(t, fake.objects, "exports/docs/new/f")

	require.NoError(t, d.RenameFile(ctx, "/new/f", "/g"))
	status, err := d.FileExists(ctx, "/g")
	require.NoError(t, err)
	assert.Equal(t, disk.StatusFile, status)
}

func TestSearchListsFilesAndPrefixes(t *testing.T) {
	ctx := context.Background()
	d, fake := newTestDriver(t)
	fake.objects["exports/docs/b"] = nil
	fake.objects["exports/docs/a/"] = nil
	fake.objects["exports/docs/c/deep/x"] = nil

	s, err := d.StartSearch(ctx, "/", "*")
	require.NoError(t, err)
	defer s.Close()

	var names []string
	for {
		info, ok := s.Next()
		if !ok {
			break
		}
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Client: newFakeS3()})
	assert.Error(t, err)
}
