package cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures S3Store. Endpoint is optional and, when set,
// points the client at an S3-compatible service (MinIO and similar)
// instead of AWS.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store is a Store backed by an S3-compatible bucket. Objects are
// addressed by the same content digest MemoryStore uses, stored as the
// object body, with refs carried in a metadata header so Get can
// reconstruct the full Object without a second round trip.
type S3Store struct {
	client s3API
	bucket string
}

const refsMetadataKey = "forgecache-refs"

// NewS3Store builds an AWS SDK v2 client from cfg and returns a Store
// over cfg.Bucket, creating the bucket if it does not already exist.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &S3Store{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if createErr != nil {
		return fmt.Errorf("bucket %s missing and could not be created: %w (head error: %v)", s.bucket, createErr, err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, obj Object) (DataID, error) {
	id := digest(obj)
	refHeader := make([]string, len(obj.Refs))
	for i, r := range obj.Refs {
		refHeader[i] = string(r)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(string(id)),
		Body:     bytes.NewReader(obj.Data),
		Metadata: map[string]string{refsMetadataKey: strings.Join(refHeader, ",")},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", id, err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, id DataID) (Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(id)),
	})
	if err != nil {
		var nf *types.NoSuchKey
		if errors.As(err, &nf) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("s3 get %s: reading body: %w", id, err)
	}

	var refs []DataID
	if raw := out.Metadata[refsMetadataKey]; raw != "" {
		for _, r := range strings.Split(raw, ",") {
			refs = append(refs, DataID(r))
		}
	}
	return Object{Refs: refs, Data: data}, nil
}
