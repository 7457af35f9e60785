package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/disk/badger"
	"github.com/marmos91/nfsd/pkg/disk/local"
	"github.com/marmos91/nfsd/pkg/disk/memory"
	diskS3 "github.com/marmos91/nfsd/pkg/disk/s3"
)

// CreateDisk builds the driver a share is configured with.
//
// The Driver field selects the implementation and Options is decoded into
// that driver's own options type. Unknown option keys are an error.
//
// Supported drivers:
//   - "memory": pkg/disk/memory (ephemeral)
//   - "local": pkg/disk/local (a directory on the host)
//   - "badger": pkg/disk/badger (BadgerDB, persistent)
//   - "s3": pkg/disk/s3 (Amazon S3 or a compatible store)
//
// Drivers implementing io.Closer must be closed by the caller.
func CreateDisk(ctx context.Context, cfg *ShareConfig) (disk.Interface, error) {
	switch cfg.Driver {
	case "memory":
		return createMemoryDisk(cfg.Options)
	case "local":
		return createLocalDisk(cfg.Options)
	case "badger":
		return createBadgerDisk(ctx, cfg.Options)
	case "s3":
		return createS3Disk(ctx, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown disk driver: %q (supported: memory, local, badger, s3)", cfg.Driver)
	}
}

// decodeOptions decodes a driver options map into out, accepting the
// loosely typed values the environment and YAML produce.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

func createMemoryDisk(options map[string]any) (disk.Interface, error) {
	var opts memory.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode memory driver options: %w", err)
	}
	return memory.New(opts), nil
}

func createLocalDisk(options map[string]any) (disk.Interface, error) {
	var opts local.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode local driver options: %w", err)
	}
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("local driver: %w", formatValidationError(err))
	}

	d, err := local.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create local driver: %w", err)
	}
	return d, nil
}

func createBadgerDisk(ctx context.Context, options map[string]any) (disk.Interface, error) {
	var opts badger.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger driver options: %w", err)
	}

	d, err := badger.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger driver: %w", err)
	}
	return d, nil
}

// S3Options configures the s3 driver and the client it is given.
type S3Options struct {
	Region    string `mapstructure:"region" validate:"required"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// Endpoint points the client at MinIO, Localstack or another
	// S3-compatible store and switches to path-style addressing.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	// AccessKeyID and SecretAccessKey override the default credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries is the number of attempts per request; 0 means 10.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
}

func createS3Disk(ctx context.Context, options map[string]any) (disk.Interface, error) {
	var opts S3Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode s3 driver options: %w", err)
	}
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("s3 driver: %w", formatValidationError(err))
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	d, err := diskS3.New(ctx, diskS3.Config{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 driver: %w", err)
	}

	logger.Info("S3 driver initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)
	return d, nil
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
