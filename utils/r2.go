package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"competition-engine/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Archiver writes result snapshots as JSON objects to a Cloudflare R2 bucket.
type R2Archiver struct {
	client     ObjectPutter
	bucket     string
	cdnBaseURL string
}

func NewR2Archiver(client ObjectPutter, bucket, cdnBaseURL string) *R2Archiver {
	return &R2Archiver{client: client, bucket: bucket, cdnBaseURL: strings.TrimRight(cdnBaseURL, "/")}
}

// InitR2 builds an S3 client pointed at the account's R2 endpoint.
func InitR2(ctx context.Context, cfg R2Config) (*R2Archiver, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	cdn := cfg.CDNBaseURL
	if cdn == "" {
		cdn = endpoint + "/" + cfg.Bucket
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return NewR2Archiver(client, cfg.Bucket, cdn), nil
}

func SnapshotKey(snap *models.ResultSnapshot) string {
	return fmt.Sprintf("snapshots/%s/%s-%s.json", snap.CompetitionID, snap.SnapshotType, snap.ID)
}

// ArchiveSnapshot uploads snap and returns its public URL.
func (a *R2Archiver) ArchiveSnapshot(ctx context.Context, snap *models.ResultSnapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := SnapshotKey(snap)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	url := fmt.Sprintf("%s/%s", a.cdnBaseURL, key)
	log.Printf("[ARCHIVE] ☁️ Snapshot %s uploaded to %s", snap.ID, url)
	return url, nil
}
