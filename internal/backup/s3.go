package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectWriter is the subset of the S3 client used for uploads.
type ObjectWriter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads snapshots under a bucket prefix.
type S3Uploader struct {
	api       ObjectWriter
	bucket    string
	keyPrefix string
}

// NewS3Uploader returns an uploader for bucketURL, of the form
// s3://bucket/prefix (prefix optional).
func NewS3Uploader(api ObjectWriter, bucketURL string) (*S3Uploader, error) {
	if api == nil {
		return nil, fmt.Errorf("s3: nil client")
	}
	bucket, prefix, err := parseS3BucketURL(bucketURL)
	if err != nil {
		return nil, err
	}
	return &S3Uploader{api: api, bucket: bucket, keyPrefix: prefix}, nil
}

// Key returns the object key localPath is uploaded to.
func (u *S3Uploader) Key(localPath string) string {
	key := path.Base(localPath)
	if u.keyPrefix != "" {
		key = path.Join(u.keyPrefix, key)
	}
	return key
}

// UploadFile uploads localPath to the configured bucket and prefix.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := u.Key(localPath)
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3: put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

func parseS3BucketURL(raw string) (bucket string, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse bucket-url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: bucket-url must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", fmt.Errorf("s3: bucket-url missing bucket name")
	}

	prefix = strings.Trim(strings.TrimSpace(u.Path), "/")
	return u.Host, prefix, nil
}
