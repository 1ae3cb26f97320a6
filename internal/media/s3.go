package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"crm-inbox/internal/models"
)

// S3Config holds the bucket settings for outbound media.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	PublicURL string
}

// S3Uploader stores outbound attachments in a bucket and returns their public URL.
type S3Uploader struct {
	client *s3.Client
	cfg    S3Config
	now    func() time.Time
}

// NewS3Uploader validates cfg and builds the S3 client.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available - set S3_ACCESS_KEY and S3_SECRET_KEY")
	}

	// A bucket name inside the endpoint is a common misconfiguration.
	if cfg.Endpoint != "" && strings.Contains(cfg.Endpoint, cfg.Bucket+".") {
		cleaned := strings.Replace(cfg.Endpoint, cfg.Bucket+".", "", 1)
		log.Warn().
			Str("originalEndpoint", cfg.Endpoint).
			Str("cleanedEndpoint", cleaned).
			Str("bucket", cfg.Bucket).
			Msg("Cleaned bucket name from S3 endpoint - endpoint should not contain bucket name")
		cfg.Endpoint = cleaned
	}

	// Dotted bucket names break virtual-hosted TLS certificates.
	if strings.Contains(cfg.Bucket, ".") {
		cfg.PathStyle = true
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Bool("pathStyle", cfg.PathStyle).
		Msg("S3 client initialized")

	return &S3Uploader{client: client, cfg: cfg, now: time.Now}, nil
}

// Key builds the object key for an attachment sent to ref.
func (u *S3Uploader) Key(ref models.ClientRef, objectID, mimeType string) string {
	now := u.now().UTC()
	return fmt.Sprintf("outbox/%s/%s/%s/%s/%s/%s/%s%s",
		ref.Kind,
		ref.ID,
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
		folder(mimeType),
		objectID,
		Extension(mimeType),
	)
}

// Upload stores p under an object key for ref and returns the public URL.
func (u *S3Uploader) Upload(ctx context.Context, ref models.ClientRef, objectID string, p *Payload) (string, error) {
	key := u.Key(ref, objectID, p.MimeType)

	contentType := p.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	input := &s3.PutObjectInput{
		Bucket:       aws.String(u.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(p.Data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if k := KindOf(p.MimeType); k == "image" || k == "video" || p.MimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Str("bucket", u.cfg.Bucket).
			Str("mimeType", p.MimeType).
			Int("size", len(p.Data)).
			Msg("Failed to upload file to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	url := u.PublicURL(key)
	log.Info().
		Str("key", key).
		Str("bucket", u.cfg.Bucket).
		Int("size", len(p.Data)).
		Msg("File successfully uploaded to S3")
	return url, nil
}

// PublicURL returns the URL the send API downloads key from.
func (u *S3Uploader) PublicURL(key string) string {
	cfg := u.cfg
	if cfg.PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.PublicURL, "/"), cfg.Bucket, key)
	}

	switch {
	case cfg.Endpoint == "" || strings.Contains(cfg.Endpoint, "amazonaws.com"):
		if cfg.PathStyle {
			return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", cfg.Region, cfg.Bucket, key)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", cfg.Bucket, cfg.Region, key)
	case cfg.PathStyle:
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.Endpoint, "/"), cfg.Bucket, key)
	default:
		host := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		return fmt.Sprintf("https://%s.%s/%s", cfg.Bucket, strings.TrimRight(host, "/"), key)
	}
}
