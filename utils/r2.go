// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"squad-ladder/config"
)

// MaxEvidenceBytes caps a single dispute upload.
const MaxEvidenceBytes = 50 << 20

// EvidenceStore uploads dispute evidence (clips, screenshots) to Cloudflare R2
// and hands back the public URL.
type EvidenceStore struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

// NewEvidenceStore connects to R2. endpoint overrides the account endpoint
// and is meant for S3-compatible stand-ins.
func NewEvidenceStore(ctx context.Context, cfg config.R2Config, endpoint string) (*EvidenceStore, error) {
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	cdn := strings.TrimRight(cfg.CDNBaseURL, "/")
	if cdn == "" {
		cdn = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load R2 config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &EvidenceStore{client: client, bucket: cfg.Bucket, cdnBaseURL: cdn}, nil
}

// EvidenceKey names the object for an upload attached to matchID.
func EvidenceKey(matchID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("evidence/%s/%s%s", matchID, uuid.NewString(), ext)
}

// Upload stores body under key and returns its public URL.
func (s *EvidenceStore) Upload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to upload %s to R2", key)
	}
	return fmt.Sprintf("%s/%s", s.cdnBaseURL, key), nil
}

// UploadFile reads a multipart upload and stores it under key.
func (s *EvidenceStore) UploadFile(ctx context.Context, fh *multipart.FileHeader, key string) (string, error) {
	if fh.Size > MaxEvidenceBytes {
		return "", eris.Errorf("file is %d bytes, limit is %d", fh.Size, MaxEvidenceBytes)
	}
	file, err := fh.Open()
	if err != nil {
		return "", eris.Wrap(err, "failed to open upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxEvidenceBytes+1))
	if err != nil {
		return "", eris.Wrap(err, "failed to read upload")
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.Upload(ctx, key, contentType, data)
}
