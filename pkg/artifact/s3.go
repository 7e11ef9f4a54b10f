package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/source"
)

// S3 stores artifacts in a bucket under an optional key prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(ctx context.Context, bucket, prefix, region, endpoint string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 artifact store requires a bucket")
	}
	client, err := source.NewS3Client(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3) key(p string) string { return path.Join(s.prefix, p) }

func (s *S3) Upload(ctx context.Context, p string, data []byte) (string, error) {
	key := s.key(p)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", domain.E(domain.KindArtifactStoreDown, "artifact.S3.Upload",
			fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	trim := s.prefix
	if trim != "" && !strings.HasSuffix(trim, "/") {
		trim += "/"
	}
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, domain.E(domain.KindArtifactStoreDown, "artifact.S3.List",
				fmt.Errorf("list s3://%s/%s: %w", s.bucket, full, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			keys = append(keys, strings.TrimPrefix(key, trim))
		}
	}
	return keys, nil
}

func (s *S3) Delete(ctx context.Context, p string) error {
	key := s.key(p)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.E(domain.KindArtifactStoreDown, "artifact.S3.Delete",
			fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err))
	}
	return nil
}
