// Package archive copies completed lottery runs, with their frozen audit
// report, to an S3-compatible bucket outside the primary database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jswmusik/jobbeli/internal/config"
	"github.com/jswmusik/jobbeli/internal/model"
)

// MinioArchiver writes one JSON object per completed run.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiver builds a client for cfg. It does not contact the server.
func NewMinioArchiver(cfg config.ArchiveConfig) (*MinioArchiver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio.New: %w", err)
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive stores run under ObjectKey(run). Only COMPLETED runs are archived.
func (a *MinioArchiver) Archive(ctx context.Context, run *model.LotteryRun) error {
	if run.Status != model.RunCompleted {
		return fmt.Errorf("archive run %s: status is %s", run.ID, run.Status)
	}
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, ObjectKey(run), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: Metadata(run),
		})
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.ID, err)
	}
	return nil
}

// ObjectKey is <group id>/<executed date>/<run id>.json.
func ObjectKey(run *model.LotteryRun) string {
	return path.Join(run.GroupID, run.ExecutedAt.UTC().Format("2006-01-02"), run.ID+".json")
}

// Metadata is attached to every archived object so a copy can be checked
// against its database row without downloading it.
func Metadata(run *model.LotteryRun) map[string]string {
	return map[string]string{
		"run-id":         run.ID,
		"seed":           fmt.Sprint(run.Seed),
		"engine-version": run.EngineVersion,
		"report-digest":  run.ReportDigest,
	}
}
