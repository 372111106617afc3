package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3Store, mirroring the teacher's S3BlobConfig.
type S3Config struct {
	BucketName    string
	Region        string
	Endpoint      string // empty for AWS; set for S3-compatible endpoints
	AccessKey     string
	SecretKey     string
	UseAccelerate bool
	UsePathStyle  bool
}

// S3Store implements Store against the official AWS SDK, grounded on
// internal/blob/client_s3.go's BlobClient.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store from cfg, loading credentials the same
// way NewBlobClientWithS3Config does: static credentials plus region and
// optional custom endpoint for S3-compatible backends.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return &S3Store{client: client, bucket: cfg.BucketName}, nil
}

func stripETagQuotes(etag string) string {
	return strings.ReplaceAll(etag, "\"", "")
}

func (s *S3Store) PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, contentType string) (PutResult, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	resp, err := s.client.PutObject(ctx, input)
	if err != nil {
		return PutResult{}, fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return PutResult{ETag: stripETagQuotes(aws.ToString(resp.ETag)), VersionID: aws.ToString(resp.VersionId)}, nil
}

func (s *S3Store) MultipartPut(ctx context.Context, key string, body io.Reader, size int64, partSize int64, metadata map[string]string, contentType string, progress ProgressFunc) (PutResult, error) {
	if partSize <= 0 {
		partSize = 8 * 1024 * 1024
	}

	createInput := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	}
	if contentType != "" {
		createInput.ContentType = aws.String(contentType)
	}

	created, err := s.client.CreateMultipartUpload(ctx, createInput)
	if err != nil {
		return PutResult{}, fmt.Errorf("objectstore: create multipart upload %s: %w", key, err)
	}
	uploadID := created.UploadId

	var parts []types.CompletedPart
	var uploaded int64
	buf := make([]byte, partSize)
	partNumber := int32(1)

	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			resp, putErr := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if putErr != nil {
				_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
					Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
				})
				return PutResult{}, fmt.Errorf("objectstore: upload part %d of %s: %w", partNumber, key, putErr)
			}

			parts = append(parts, types.CompletedPart{ETag: resp.ETag, PartNumber: aws.Int32(partNumber)})
			uploaded += int64(n)
			if progress != nil {
				progress(uploaded, size)
			}
			partNumber++
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
			})
			return PutResult{}, fmt.Errorf("objectstore: read body for %s: %w", key, readErr)
		}
	}

	completed, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("objectstore: complete multipart upload %s: %w", key, err)
	}

	return PutResult{ETag: stripETagQuotes(aws.ToString(completed.ETag)), VersionID: aws.ToString(completed.VersionId)}, nil
}

func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) ListObjectsV2(ctx context.Context, prefix string, continuationToken string) (ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	resp, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return ListPage{}, fmt.Errorf("objectstore: list %s: %w", prefix, err)
	}

	page := ListPage{}
	for _, obj := range resp.Contents {
		var lastModMs int64
		if obj.LastModified != nil {
			lastModMs = obj.LastModified.UnixMilli()
		}
		page.Items = append(page.Items, ListedItem{
			Key:            aws.ToString(obj.Key),
			LastModifiedMs: lastModMs,
			SizeBytes:      aws.ToInt64(obj.Size),
			ETag:           stripETagQuotes(aws.ToString(obj.ETag)),
		})
	}
	if aws.ToBool(resp.IsTruncated) {
		page.NextToken = aws.ToString(resp.NextContinuationToken)
	}
	return page, nil
}

func (s *S3Store) GetObject(ctx context.Context, key string) (GetObjectResult, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return GetObjectResult{}, fmt.Errorf("objectstore: get %s: %w", key, err)
	}

	var lastMod int64
	if resp.LastModified != nil {
		lastMod = resp.LastModified.UnixMilli()
	}

	return GetObjectResult{
		Body:         resp.Body,
		SizeBytes:    aws.ToInt64(resp.ContentLength),
		ETag:         stripETagQuotes(aws.ToString(resp.ETag)),
		LastModified: lastMod,
	}, nil
}

var _ Store = (*S3Store)(nil)
