// Package reliability contains operational safeguards around the ledger
// database: S3 backups and WAL maintenance.
package reliability

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/config"
	"github.com/mingqiu/abacus/internal/database"
	"github.com/mingqiu/abacus/internal/events"
)

// BackupService uploads the ledger database file to S3. The ledger is the
// only non-derivable state in the system, so it is the only thing backed up.
type BackupService struct {
	cfg    config.BackupConfig
	ledger *database.DB
	events *events.Manager
	log    zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(cfg config.BackupConfig, ledgerDB *database.DB, eventManager *events.Manager, log zerolog.Logger) *BackupService {
	return &BackupService{
		cfg:    cfg,
		ledger: ledgerDB,
		events: eventManager,
		log:    log.With().Str("service", "backup").Logger(),
	}
}

// Enabled reports whether a backup destination is configured.
func (s *BackupService) Enabled() bool {
	return s.cfg.Enabled()
}

// Run checkpoints the WAL into the main database file and uploads it to S3.
func (s *BackupService) Run(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("backup is not configured")
	}

	// Fold the WAL into the main file so the upload is self-contained
	if err := s.ledger.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("pre-backup checkpoint failed: %w", err)
	}

	client, err := s.newClient(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(s.ledger.Path())
	if err != nil {
		return fmt.Errorf("failed to open ledger database for backup: %w", err)
	}
	defer file.Close()

	key := fmt.Sprintf("%s/ledger-%s.db", s.cfg.Prefix, time.Now().Format("2006-01-02T15-04-05"))

	uploader := manager.NewUploader(client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
		Body:   file,
	}); err != nil {
		s.events.EmitError("backup", err)
		return fmt.Errorf("failed to upload ledger backup: %w", err)
	}

	s.log.Info().
		Str("bucket", s.cfg.Bucket).
		Str("key", key).
		Msg("Ledger backup uploaded")

	s.events.Emit(events.EventBackupCompleted, "backup", map[string]interface{}{
		"bucket": s.cfg.Bucket,
		"key":    key,
	})

	return nil
}

func (s *BackupService) newClient(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s.cfg.Region),
	}

	// Static credentials from the environment take precedence over the
	// default chain when both halves are present
	accessKey := os.Getenv("BACKUP_S3_ACCESS_KEY")
	secretKey := os.Getenv("BACKUP_S3_SECRET_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg), nil
}
