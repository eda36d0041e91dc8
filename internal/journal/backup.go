package journal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupConfig describes the optional S3 journal backup.
type BackupConfig struct {
	Bucket string
	Prefix string
	Region string
}

// Backuper uploads journal snapshots to S3. Construction fails when AWS
// credentials are not resolvable; callers treat backup as optional.
type Backuper struct {
	cfg      BackupConfig
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewBackuper builds an S3 uploader from the ambient AWS configuration.
func NewBackuper(ctx context.Context, cfg BackupConfig, log zerolog.Logger) (*Backuper, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &Backuper{
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "journal_backup").Logger(),
	}, nil
}

// Backup checkpoints the journal and uploads the database file under a
// timestamped key.
func (b *Backuper) Backup(ctx context.Context, j *Journal) error {
	if err := j.Checkpoint(); err != nil {
		return fmt.Errorf("failed to checkpoint before backup: %w", err)
	}

	f, err := os.Open(j.Path())
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%sjournal-%s.db", b.cfg.Prefix, time.Now().UTC().Format("20060102T150405Z"))
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload journal backup: %w", err)
	}

	b.log.Info().Str("bucket", b.cfg.Bucket).Str("key", key).Msg("Journal backup uploaded")
	return nil
}
