package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// S3Options configures an object-store source or artifact client.
type S3Options struct {
	Bucket   string
	Prefix   string
	Filter   string
	Region   string
	Endpoint string
}

// S3 lists and reads documents under a bucket prefix.
type S3 struct {
	client *s3.Client
	opts   S3Options
}

// NewS3Client builds an S3 client from the ambient credential chain.
// A non-empty endpoint switches to path-style addressing for
// S3-compatible stores.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 source requires a bucket")
	}
	client, err := NewS3Client(ctx, opts.Region, opts.Endpoint)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, opts: opts}, nil
}

func (s *S3) List(ctx context.Context) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: aws.String(s.opts.Prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, domain.E(domain.KindTransientNetwork, "source.S3.List",
				fmt.Errorf("list s3://%s/%s: %w", s.opts.Bucket, s.opts.Prefix, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if s.opts.Filter != "" {
				ok, _ := path.Match(s.opts.Filter, path.Base(key))
				if !ok {
					continue
				}
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *S3) Read(ctx context.Context, id string) (*domain.SourceFile, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, domain.E(domain.KindTransientNetwork, "source.S3.Read",
			fmt.Errorf("get s3://%s/%s: %w", s.opts.Bucket, id, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, domain.E(domain.KindTransientNetwork, "source.S3.Read",
			fmt.Errorf("read s3://%s/%s: %w", s.opts.Bucket, id, err))
	}
	return &domain.SourceFile{
		Filename:  path.Base(id),
		Data:      data,
		SourceURL: fmt.Sprintf("s3://%s/%s", s.opts.Bucket, id),
	}, nil
}
