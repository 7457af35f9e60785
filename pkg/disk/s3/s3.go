// Package s3 implements a disk driver on an S3 bucket.
//
// Files are objects keyed by their share path below an optional prefix.
// Directories are zero-length marker objects whose key ends in "/"; a
// directory also exists implicitly when any key lives below it. File ids are
// the cityhash of the path, so the driver cannot resolve ids back to paths
// and shares on it use the server's path cache.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/creachadair/cityhash"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/disk"
)

// ObjectAPI is the subset of *s3.Client the driver uses.
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures a Driver.
type Config struct {
	Client ObjectAPI

	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "exports/docs/".
	KeyPrefix string
}

// Driver serves the objects of one bucket prefix.
type Driver struct {
	client ObjectAPI
	bucket string
	prefix string
}

// New validates cfg and checks the bucket is reachable.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	d := &Driver{client: cfg.Client, bucket: cfg.Bucket, prefix: prefix}

	_, err := cfg.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(cfg.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("s3 driver opened: bucket=%s prefix=%q", cfg.Bucket, prefix)
	return d, nil
}

// objectKey maps a share path to the key of its file object.
func (d *Driver) objectKey(p string) string {
	return d.prefix + strings.TrimPrefix(disk.Clean(p), "/")
}

// dirKey maps a share path to the key prefix of its children.
func (d *Driver) dirKey(p string) string {
	p = disk.Clean(p)
	if p == disk.Root {
		return d.prefix
	}
	return d.objectKey(p) + "/"
}

// fileID hashes a share path. The root is always 0.
func fileID(p string) uint32 {
	p = disk.Clean(p)
	if p == disk.Root {
		return 0
	}
	id := cityhash.Hash32([]byte(p))
	if id == 0 {
		id = 1
	}
	return id
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (d *Driver) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, disk.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return out, nil
}

// dirStamp reports whether p is a directory and the marker's mtime if any.
func (d *Driver) dirStamp(ctx context.Context, p string) (bool, time.Time, error) {
	if disk.Clean(p) == disk.Root {
		return true, time.Time{}, nil
	}
	key := d.dirKey(p)
	if out, err := d.head(ctx, key); err == nil {
		return true, aws.ToTime(out.LastModified), nil
	} else if !errors.Is(err, disk.ErrNotFound) {
		return false, time.Time{}, err
	}

	out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to list %s: %w", key, err)
	}
	return len(out.Contents) > 0, time.Time{}, nil
}

func (d *Driver) FileExists(ctx context.Context, p string) (disk.FileStatus, error) {
	if disk.Clean(p) != disk.Root {
		_, err := d.head(ctx, d.objectKey(p))
		if err == nil {
			return disk.StatusFile, nil
		}
		if !errors.Is(err, disk.ErrNotFound) {
			return disk.StatusNotExist, err
		}
	}
	isDir, _, err := d.dirStamp(ctx, p)
	if err != nil {
		return disk.StatusNotExist, err
	}
	if isDir {
		return disk.StatusDirectory, nil
	}
	return disk.StatusNotExist, nil
}

func (d *Driver) GetFileInformation(ctx context.Context, p string) (*disk.FileInfo, error) {
	p = disk.Clean(p)
	if p != disk.Root {
		out, err := d.head(ctx, d.objectKey(p))
		if err == nil {
			mtime := aws.ToTime(out.LastModified)
			size := uint64(aws.ToInt64(out.ContentLength))
			return &disk.FileInfo{
				Name:       disk.Base(p),
				FileID:     fileID(p),
				Type:       disk.TypeFile,
				Size:       size,
				ModifyTime: mtime,
				ChangeTime: mtime,
				AccessTime: mtime,
			}, nil
		}
		if !errors.Is(err, disk.ErrNotFound) {
			return nil, err
		}
	}

	isDir, mtime, err := d.dirStamp(ctx, p)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrNotFound)
	}
	name := disk.Base(p)
	if p == disk.Root {
		name = ""
	}
	return &disk.FileInfo{
		Name:       name,
		FileID:     fileID(p),
		Type:       disk.TypeDirectory,
		ModifyTime: mtime,
		ChangeTime: mtime,
		AccessTime: mtime,
	}, nil
}

// SetFileInformation accepts and drops attribute changes; objects carry no
// POSIX attributes.
func (d *Driver) SetFileInformation(ctx context.Context, p string, attrs *disk.SetAttrs) error {
	if _, err := d.GetFileInformation(ctx, p); err != nil {
		return err
	}
	if !attrs.IsEmpty() {
		logger.Debug("s3 driver: ignoring attribute change on %s", p)
	}
	return nil
}

func (d *Driver) put(ctx context.Context, key string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (d *Driver) delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (d *Driver) get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, disk.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (d *Driver) copy(ctx context.Context, from, to string) error {
	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(d.bucket + "/" + url.PathEscape(from)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	return nil
}

func (d *Driver) requireParent(ctx context.Context, p string) error {
	status, err := d.FileExists(ctx, disk.Parent(p))
	if err != nil {
		return err
	}
	switch status {
	case disk.StatusNotExist:
		return fmt.Errorf("%s: %w", disk.Parent(p), disk.ErrNotFound)
	case disk.StatusFile:
		return fmt.Errorf("%s: %w", disk.Parent(p), disk.ErrNotDirectory)
	}
	if len(disk.Base(p)) > disk.MaxNameLength {
		return fmt.Errorf("%s: %w", p, disk.ErrNameTooLong)
	}
	return nil
}

func (d *Driver) OpenFile(ctx context.Context, p string, readOnly bool) (disk.NetworkFile, error) {
	status, err := d.FileExists(ctx, p)
	if err != nil {
		return nil, err
	}
	switch status {
	case disk.StatusNotExist:
		return nil, fmt.Errorf("open %s: %w", p, disk.ErrNotFound)
	case disk.StatusDirectory:
		return nil, fmt.Errorf("open %s: %w", p, disk.ErrIsDirectory)
	}
	return &file{d: d, key: d.objectKey(p), path: disk.Clean(p), readOnly: readOnly}, nil
}

func (d *Driver) CreateFile(ctx context.Context, p string) (disk.NetworkFile, error) {
	if err := d.requireParent(ctx, p); err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	status, err := d.FileExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if status != disk.StatusNotExist {
		return nil, fmt.Errorf("create %s: %w", p, disk.ErrExists)
	}
	key := d.objectKey(p)
	if err := d.put(ctx, key, nil); err != nil {
		return nil, err
	}
	return &file{d: d, key: key, path: disk.Clean(p), loaded: true}, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) error {
	if err := d.requireParent(ctx, p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	status, err := d.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if status != disk.StatusNotExist {
		return fmt.Errorf("mkdir %s: %w", p, disk.ErrExists)
	}
	return d.put(ctx, d.dirKey(p), nil)
}

func (d *Driver) DeleteFile(ctx context.Context, p string) error {
	status, err := d.FileExists(ctx, p)
	if err != nil {
		return err
	}
	switch status {
	case disk.StatusNotExist:
		return fmt.Errorf("remove %s: %w", p, disk.ErrNotFound)
	case disk.StatusDirectory:
		return fmt.Errorf("remove %s: %w", p, disk.ErrIsDirectory)
	}
	return d.delete(ctx, d.objectKey(p))
}

func (d *Driver) DeleteDirectory(ctx context.Context, p string) error {
	if disk.Clean(p) == disk.Root {
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrAccessDenied)
	}
	status, err := d.FileExists(ctx, p)
	if err != nil {
		return err
	}
	switch status {
	case disk.StatusNotExist:
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotFound)
	case disk.StatusFile:
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotDirectory)
	}
	keys, err := d.listAll(ctx, d.dirKey(p))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k != d.dirKey(p) {
			return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotEmpty)
		}
	}
	return d.delete(ctx, d.dirKey(p))
}

func (d *Driver) listAll(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (d *Driver) RenameFile(ctx context.Context, oldPath, newPath string) error {
	status, err := d.FileExists(ctx, oldPath)
	if err != nil {
		return err
	}
	if status == disk.StatusNotExist {
		return fmt.Errorf("rename %s: %w", oldPath, disk.ErrNotFound)
	}
	if err := d.requireParent(ctx, newPath); err != nil {
		return fmt.Errorf("rename to %s: %w", newPath, err)
	}
	if target, err := d.FileExists(ctx, newPath); err != nil {
		return err
	} else if target != disk.StatusNotExist {
		return fmt.Errorf("rename to %s: %w", newPath, disk.ErrExists)
	}

	if status == disk.StatusFile {
		if err := d.copy(ctx, d.objectKey(oldPath), d.objectKey(newPath)); err != nil {
			return err
		}
		return d.delete(ctx, d.objectKey(oldPath))
	}

	if disk.IsWithin(newPath, oldPath) {
		return fmt.Errorf("rename %s into itself: %w", oldPath, disk.ErrInvalid)
	}
	from, to := d.dirKey(oldPath), d.dirKey(newPath)
	keys, err := d.listAll(ctx, from)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		keys = []string{from}
		if err := d.put(ctx, from, nil); err != nil {
			return err
		}
	}
	for _, k := range keys {
		if err := d.copy(ctx, k, to+strings.TrimPrefix(k, from)); err != nil {
			return err
		}
	}
	for _, k := range keys {
		if err := d.delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) StartSearch(ctx context.Context, dir string, pattern string) (disk.SearchContext, error) {
	status, err := d.FileExists(ctx, dir)
	if err != nil {
		return nil, err
	}
	switch status {
	case disk.StatusNotExist:
		return nil, fmt.Errorf("search %s: %w", dir, disk.ErrNotFound)
	case disk.StatusFile:
		return nil, fmt.Errorf("search %s: %w", dir, disk.ErrNotDirectory)
	}

	prefix := d.dirKey(dir)
	seen := make(map[string]bool)
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" {
				seen[name] = true
			}
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				seen[name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	base := disk.Clean(dir)
	stat := func(name string) (*disk.FileInfo, error) {
		return d.GetFileInformation(context.Background(), disk.Join(base, name))
	}
	return disk.NewListSearch(names, pattern, stat, nil), nil
}

var _ disk.Interface = (*Driver)(nil)
