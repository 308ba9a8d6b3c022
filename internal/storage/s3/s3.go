// Package s3 mirrors configuration artifacts to an S3-compatible object
// store.
package s3

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/storage"
)

// DefaultPrefix is the object key prefix used when none is configured.
const DefaultPrefix = "opnsense"

var _ storage.Backend = (*Backend)(nil)

// Config holds the settings for an S3-compatible backend.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // MinIO, R2, B2, Wasabi
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	StorageClass    string `yaml:"storageClass"`
	ForcePathStyle  bool   `yaml:"forcePathStyle"`
}

// Backend stores artifacts as <prefix>/<fileName> objects.
type Backend struct {
	client       *s3.Client
	bucket       string
	prefix       string
	storageClass s3types.StorageClass
	name         string
}

// New creates an S3 backend. Credentials fall back to the default AWS chain
// when no static key pair is configured.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fault.Configurationf("s3: bucket is required")
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fault.Configuration(errors.Wrap(err, "s3: load AWS config"), "check the storage credentials and region")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	sc := s3types.StorageClassStandard
	if cfg.StorageClass != "" {
		sc = s3types.StorageClass(cfg.StorageClass)
	}

	return &Backend{
		client:       s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:       cfg.Bucket,
		prefix:       prefix,
		storageClass: sc,
	}, nil
}

func (b *Backend) Type() string { return "s3" }

func (b *Backend) Name() string {
	if b.name != "" {
		return b.name
	}
	return b.Type()
}

func (b *Backend) SetName(name string) { b.name = name }

func (b *Backend) objectKey(fileName string) string {
	return path.Join(b.prefix, fileName)
}

// Upload stores data as <prefix>/<fileName>.
func (b *Backend) Upload(ctx context.Context, fileName string, data io.Reader, size int64) (*storage.BackupMetadata, error) {
	key := b.objectKey(fileName)

	input := &s3.PutObjectInput{
		Bucket:       aws.String(b.bucket),
		Key:          aws.String(key),
		Body:         data,
		StorageClass: b.storageClass,
		ContentType:  aws.String("application/xml"),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return nil, fault.Connectivity(errors.Wrapf(err, "s3: upload %s", key), "")
	}

	created, _ := storage.ParseBackupName(fileName)
	return &storage.BackupMetadata{
		Key:       key,
		FileName:  fileName,
		Size:      size,
		CreatedAt: created,
	}, nil
}

// Download retrieves an object. A bare file name is resolved under the
// prefix. Caller must close the reader.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, *storage.BackupMetadata, error) {
	if !strings.Contains(key, "/") {
		key = b.objectKey(key)
	}
	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fault.Connectivity(errors.Wrapf(err, "s3: download %s", key), "")
	}

	meta := &storage.BackupMetadata{Key: key, FileName: parseKey(b.prefix, key)}
	if output.ContentLength != nil {
		meta.Size = *output.ContentLength
	}
	meta.CreatedAt, _ = storage.ParseBackupName(meta.FileName)

	return output.Body, meta, nil
}

// List returns the config-*.xml objects directly under the prefix, newest
// first.
func (b *Backend) List(ctx context.Context) ([]storage.BackupMetadata, error) {
	prefix := b.prefix + "/"

	var backups []storage.BackupMetadata
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fault.Connectivity(errors.Wrapf(err, "s3: list objects with prefix %s", prefix), "")
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			fileName := parseKey(b.prefix, *obj.Key)
			if strings.Contains(fileName, "/") || !storage.IsBackupName(fileName) {
				continue
			}
			meta := storage.BackupMetadata{
				Key:      *obj.Key,
				FileName: fileName,
			}
			if obj.Size != nil {
				meta.Size = *obj.Size
			}
			meta.CreatedAt, _ = storage.ParseBackupName(fileName)
			backups = append(backups, meta)
		}
	}

	storage.SortNewestFirst(backups)
	return backups, nil
}

// Delete removes an object.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fault.Connectivity(errors.Wrapf(err, "s3: delete %s", key), "")
	}
	return nil
}

// parseKey strips the prefix from an object key.
func parseKey(prefix, key string) string {
	return strings.TrimPrefix(key, prefix+"/")
}
