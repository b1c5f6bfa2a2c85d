package module

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type s3Location struct {
	bucket string
	key    string
}

func (l s3Location) baseName() string {
	return path.Base(l.key)
}

// parseS3URL splits s3://bucket/key.
func parseS3URL(raw string) (s3Location, bool) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return s3Location{}, false
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return s3Location{}, false
	}
	return s3Location{bucket: bucket, key: key}, true
}

func newS3Client(ctx context.Context, opts s3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if opts.Endpoint == "" {
		return s3.NewFromConfig(awsCfg), nil
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	}), nil
}

// fetchS3 downloads the object into a temporary file positioned at the
// start. The caller removes it.
func fetchS3(ctx context.Context, opts s3Options, loc s3Location) (*os.File, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", loc.bucket, loc.key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.CreateTemp("", "hostctl-module-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", loc.bucket, loc.key, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	return f, nil
}
