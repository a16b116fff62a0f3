package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of the S3 client used to read objects.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config holds the parameters of the process-wide S3 client.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UsePathStyle bool
}

// NewS3Client builds the shared S3 client handle. It is created once per
// process and passed to every S3Origin.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(cfg.Region) != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if strings.TrimSpace(cfg.AccessKey) != "" || strings.TrimSpace(cfg.SecretKey) != "" {
		if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
			return nil, fmt.Errorf("s3: access key and secret key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Origin reads one object with ranged GETs.
type S3Origin struct {
	api    ObjectAPI
	bucket string
	key    string

	sizeOnce sync.Once
	size     int64
	sizeErr  error
}

// NewS3Origin returns an origin for bucket/key served through api.
func NewS3Origin(api ObjectAPI, bucket, key string) *S3Origin {
	return &S3Origin{api: api, bucket: bucket, key: key}
}

func (o *S3Origin) String() string { return "s3://" + o.bucket + "/" + o.key }

func (o *S3Origin) OpenRange(ctx context.Context, start int64) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	}
	if start > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", start))
	}
	out, err := o.api.GetObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", o, err)
	}
	return out.Body, nil
}

func (o *S3Origin) Size(ctx context.Context) (int64, error) {
	o.sizeOnce.Do(func() {
		out, err := o.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(o.key),
		})
		if err != nil {
			o.sizeErr = fmt.Errorf("s3: head %s: %w", o, err)
			return
		}
		o.size = aws.ToInt64(out.ContentLength)
	})
	return o.size, o.sizeErr
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(raw string) (bucket string, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse uri: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: uri must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", fmt.Errorf("s3: uri missing bucket name")
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3: uri missing object key")
	}
	return u.Host, key, nil
}

// BucketNameFromARN returns the bucket name of arn:aws:s3:::bucket.
func BucketNameFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	return parts[len(parts)-1]
}
