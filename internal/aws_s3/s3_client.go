package aws_s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PageArchive stores raw html of scraped pages so that extraction can be replayed later.
type PageArchive struct {
	client *s3.Client
	cfg    *config.S3Config
	log    *slog.Logger
}

func NewPageArchive(ctx context.Context, cfg *config.S3Config, log *slog.Logger) (*PageArchive, error) {
	log.Info("connecting to s3...")

	s3Config, err := awsCfg.LoadDefaultConfig(ctx,
		awsCfg.WithCredentialsProvider(crd.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithBaseEndpoint(cfg.AwsBaseEndpoint))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	// LocalStack does not support the virtual hosted addressing style s3 uses by default.
	var client *s3.Client
	if cfg.AwsAccessKey == "test" {
		log.Warn("test configuration for s3")
		client = s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(s3Config)
	}
	log.Info("connected to s3")

	return &PageArchive{client: client, cfg: cfg, log: log}, nil
}

// SavePage writes html under a key derived from url and returns the object location.
func (a *PageArchive) SavePage(ctx context.Context, url, html string) (string, error) {
	key := PageKey(a.cfg.KeyPrefix, url)
	contentType := "text/html; charset=utf-8"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.cfg.BucketName,
		Key:         &key,
		Body:        strings.NewReader(html),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("save page %s: %w", url, err)
	}
	a.log.Debug("page saved to s3.", slog.String("url", url), slog.String("key", key))

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.cfg.BucketName, a.cfg.Region, key), nil
}

// PageKey is <prefix>/<sha256 of url>/page.html. An empty prefix is omitted.
func PageKey(prefix, url string) string {
	sum := sha256.Sum256([]byte(url))
	key := hex.EncodeToString(sum[:]) + "/page.html"
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
