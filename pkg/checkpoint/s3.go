package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3 checkpoint backend.
type S3Config struct {
	// Bucket holds checkpoint objects.
	Bucket string

	// Prefix is prepended to every checkpoint key.
	Prefix string

	// Region is the AWS region.
	Region string

	// Endpoint overrides the default S3 endpoint for S3-compatible
	// stores such as MinIO or LocalStack.
	Endpoint string

	// Static credentials. When empty the default AWS credential
	// chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	UsePathStyle bool

	// Timeout bounds each S3 call.
	Timeout time.Duration

	// StorageClass for checkpoint objects.
	StorageClass types.StorageClass

	// ServerSideEncryption enables SSE-S3 on written objects.
	ServerSideEncryption bool
}

// DefaultS3Config returns defaults suitable for long-running fetch jobs.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:       bucket,
		Prefix:       "mastflow/checkpoints/",
		Timeout:      30 * time.Second,
		StorageClass: types.StorageClassStandard,
	}
}

// S3Backend stores checkpoints as JSON objects in S3. It lets fetch
// jobs resume across hosts: a worker that picks up an interrupted
// mnemonic batch reads the last persisted state regardless of where
// the previous run executed.
type S3Backend struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Backend builds the AWS client and returns a backend bound to
// the configured bucket.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 checkpoint backend requires a bucket")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Backend{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save writes the checkpoint object, overwriting any previous state
// for the same job ID.
func (b *S3Backend) Save(ctx context.Context, cp *Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", cp.ID, err)
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(b.cfg.Bucket),
		Key:          aws.String(b.key(cp.ID)),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		StorageClass: b.cfg.StorageClass,
	}
	if b.cfg.ServerSideEncryption {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("save checkpoint %s to s3: %w", cp.ID, err)
	}
	return nil
}

// Load retrieves a checkpoint by job ID.
func (b *S3Backend) Load(ctx context.Context, id string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("load checkpoint %s from s3: %w", id, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", id, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// Delete removes a checkpoint object. Deleting a missing key is not
// an error.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint %s from s3: %w", id, err)
	}
	return nil
}

// list loads every checkpoint under the configured prefix, paging
// through ListObjectsV2. Objects that fail to decode are skipped.
func (b *S3Backend) list(ctx context.Context) ([]*Checkpoint, error) {
	var (
		checkpoints       []*Checkpoint
		continuationToken *string
	)
	for {
		listCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		output, err := b.client.ListObjectsV2(listCtx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix),
			ContinuationToken: continuationToken,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("list checkpoints in s3: %w", err)
		}

		for _, obj := range output.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), b.cfg.Prefix)
			id = strings.TrimSuffix(id, ".json")

			cp, err := b.Load(ctx, id)
			if err != nil {
				continue
			}
			checkpoints = append(checkpoints, cp)
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}
	return checkpoints, nil
}

// ListIncomplete returns checkpoints for jobs that never reached the
// complete phase.
func (b *S3Backend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	all, err := b.list(ctx)
	if err != nil {
		return nil, err
	}

	var incomplete []*Checkpoint
	for _, cp := range all {
		if cp.Phase != PhaseComplete {
			incomplete = append(incomplete, cp)
		}
	}
	return incomplete, nil
}

// FindBySource returns the incomplete checkpoint for the given source,
// or os.ErrNotExist when every job for that source finished.
func (b *S3Backend) FindBySource(ctx context.Context, source string) (*Checkpoint, error) {
	incomplete, err := b.ListIncomplete(ctx)
	if err != nil {
		return nil, err
	}
	for _, cp := range incomplete {
		if cp.Source == source {
			return cp, nil
		}
	}
	return nil, os.ErrNotExist
}

// Cleanup deletes completed checkpoints older than maxAge and reports
// how many were removed.
func (b *S3Backend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := b.list(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, cp := range all {
		if cp.Phase == PhaseComplete && cp.UpdatedAt.Before(cutoff) {
			if err := b.Delete(ctx, cp.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
