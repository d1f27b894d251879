// Package blob stores uploaded files in an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// StoredRef identifies an uploaded object.
type StoredRef struct {
	Key string
	URL string
}

// Options configures the S3 store. Endpoint is empty for AWS itself.
type Options struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads objects and derives their public links.
type S3Store struct {
	client        objectPutter
	bucket        string
	publicBaseURL string
	logger        *logrus.Logger
}

// NewS3Store builds an S3 client with static credentials. A custom endpoint switches the
// client to path-style addressing so MinIO and similar services work.
func NewS3Store(ctx context.Context, opts Options, logger *logrus.Logger) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, eris.New("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, eris.Wrap(err, "loading aws configuration")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, opts.Bucket, publicBase(opts, endpoint), logger), nil
}

func newS3Store(client objectPutter, bucket, publicBaseURL string, logger *logrus.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicBaseURL: publicBaseURL, logger: logger}
}

func publicBase(opts Options, endpoint string) string {
	if base := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"); base != "" {
		return base
	}
	if endpoint != "" {
		return endpoint + "/" + opts.Bucket
	}
	return "https://" + opts.Bucket + ".s3." + opts.Region + ".amazonaws.com"
}

// Upload puts data under key and returns the stored reference.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, data []byte) (StoredRef, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return StoredRef{}, eris.New("object key is required")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"key": key, "bucket": s.bucket, "error": err.Error()}).Error("uploading object")
		}
		return StoredRef{}, eris.Wrapf(err, "uploading object %s", key)
	}

	return StoredRef{Key: key, URL: s.PublicURL(key)}, nil
}

// PublicURL returns the link under which key is served.
func (s *S3Store) PublicURL(key string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}
