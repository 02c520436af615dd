package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"threadloom/internal/logging"
)

// Export job statuses.
const (
	ExportStatusPending  = "pending"
	ExportStatusComplete = "complete"
	ExportStatusFailed   = "failed"
)

// ExportJob records one packaging run for audit.
type ExportJob struct {
	ID              string
	Scope           string
	MinQuality      float64
	Language        string
	ArticleCount    int
	ContentHash     string
	ManifestHash    string
	FilePath        string
	ConsentVerified bool
	Status          string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// ExportResult summarizes a finished packaging run.
type ExportResult struct {
	ArticleCount int
	ContentHash  string
	ManifestHash string
	FilePath     string
}

// CreateExportJob records a pending export run.
func (s *Store) CreateExportJob(ctx context.Context, job ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return errors.New("store: export job id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_jobs (id, scope, min_quality, language, status)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Scope, job.MinQuality, job.Language, ExportStatusPending)
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	logging.Export("Export job %s created for scope %s", job.ID, job.Scope)
	return nil
}

// CompleteExportJob marks a job finished with its result summary.
func (s *Store) CompleteExportJob(ctx context.Context, id string, result ExportResult) error {
	return s.finishExportJob(ctx, id, ExportStatusComplete, result)
}

// FailExportJob marks a job failed.
func (s *Store) FailExportJob(ctx context.Context, id string) error {
	return s.finishExportJob(ctx, id, ExportStatusFailed, ExportResult{})
}

func (s *Store) finishExportJob(ctx context.Context, id, status string, result ExportResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = ?, article_count = ?, content_hash = ?, manifest_hash = ?,
		    file_path = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, result.ArticleCount, result.ContentHash, result.ManifestHash,
		result.FilePath, id)
	if err != nil {
		return fmt.Errorf("failed to finish export job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: export job %s not found", id)
	}
	return nil
}

// GetExportJob fetches one job by id.
func (s *Store) GetExportJob(ctx context.Context, id string) (*ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var job ExportJob
	var language, contentHash, manifestHash, filePath sql.NullString
	var completedAt sql.NullTime
	var consentVerified int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scope, min_quality, language, article_count, content_hash,
		       manifest_hash, file_path, consent_verified, status, created_at, completed_at
		FROM export_jobs WHERE id = ?`, id).
		Scan(&job.ID, &job.Scope, &job.MinQuality, &language, &job.ArticleCount,
			&contentHash, &manifestHash, &filePath, &consentVerified,
			&job.Status, &job.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: export job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export job %s: %w", id, err)
	}
	job.Language = language.String
	job.ContentHash = contentHash.String
	job.ManifestHash = manifestHash.String
	job.FilePath = filePath.String
	job.ConsentVerified = consentVerified == 1
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
