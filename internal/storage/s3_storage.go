package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const (
	presignExpiry  = 15 * time.Minute
	maxNameLength  = 80
	attachmentRoot = "attachments"
)

// UploadTicket is handed to the browser so it can PUT the file straight to S3.
type UploadTicket struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
	PublicURL string `json:"public_url"`
}

// IS3Storage covers what message attachments need from S3.
type IS3Storage interface {
	PresignAttachmentUpload(ctx context.Context, userID utils.SixID, filename, contentType string) (*UploadTicket, error)
	PublicURL(key string) string
	KeyFromURL(url string) (string, bool)
	GetObject(ctx context.Context, key string) ([]byte, string, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
	}, nil
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] so keys stay URL safe.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := strings.TrimLeft(sb.String(), ".")
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
	}
	if out == "" {
		out = "file"
	}
	return out
}

// AttachmentKey builds attachments/<user>/<uuid>_<name>.
func AttachmentKey(userID utils.SixID, filename string) string {
	return UserAttachmentPrefix(userID) + uuid.NewString() + "_" + SanitizeFilename(filename)
}

// UserAttachmentPrefix is the key prefix of everything userID uploaded.
func UserAttachmentPrefix(userID utils.SixID) string {
	return fmt.Sprintf("%s/%s/", attachmentRoot, userID)
}

func (s *s3Storage) PresignAttachmentUpload(ctx context.Context, userID utils.SixID, filename, contentType string) (*UploadTicket, error) {
	objectKey := AttachmentKey(userID, filename)
	req, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}
	logger.Debugf("Generated presigned URL for key: %s", objectKey)
	return &UploadTicket{UploadURL: req.URL, ObjectKey: objectKey, PublicURL: s.PublicURL(objectKey)}, nil
}

func (s *s3Storage) PublicURL(key string) string {
	return publicURL(s.cfg.AttachmentBaseURL, key)
}

// KeyFromURL reverses PublicURL. Only URLs under the attachment base are ours.
func (s *s3Storage) KeyFromURL(url string) (string, bool) {
	return keyFromURL(s.cfg.AttachmentBaseURL, url)
}

func (s *s3Storage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	limit := int64(s.cfg.AttachmentMaxSizeMB) << 20
	data, err := io.ReadAll(io.LimitReader(out.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("object %s exceeds %d MB", key, s.cfg.AttachmentMaxSizeMB)
	}
	return data, aws.ToString(out.ContentType), nil
}

func (s *s3Storage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

func keyFromURL(base, url string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if base == "" || !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if !strings.HasPrefix(key, attachmentRoot+"/") || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}
