// Package export packages quality-filtered articles into a JSONL record
// stream plus a provenance manifest binding the content hash to the
// processing chain. Two sibling files per export: export_<id>.jsonl and
// export_<id>.c2pa.json.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"threadloom/internal/logging"
	"threadloom/internal/store"
	"threadloom/internal/types"
)

const (
	claimGenerator = "threadloom/1.0"
	jsonlFormat    = "application/x-ndjson"
)

// Request selects the articles to package.
type Request struct {
	Scope      string
	Source     types.SourceType
	MinQuality float64
	Language   string
}

// Record is one exported article line.
type Record struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Knowledge Knowledge `json:"knowledge"`
	Metadata  Metadata  `json:"metadata"`
}

// Knowledge carries every content field of the article.
type Knowledge struct {
	ArticleType   types.Classification `json:"article_type"`
	Symptom       string               `json:"symptom"`
	Diagnosis     string               `json:"diagnosis"`
	Solution      string               `json:"solution"`
	CodeSnippet   string               `json:"code_snippet,omitempty"`
	Language      string               `json:"language"`
	Framework     string               `json:"framework,omitempty"`
	Tags          []string             `json:"tags"`
	Confidence    float64              `json:"confidence"`
	ThreadSummary string               `json:"thread_summary"`
	SourceURL     string               `json:"source_url,omitempty"`
}

// Metadata carries the processing metadata per record.
type Metadata struct {
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// ArticleStore is the slice of the article store the packager needs.
type ArticleStore interface {
	ArticlesForExport(ctx context.Context, scope string, minQuality float64, languageFilter string) ([]store.StoredArticle, error)
	CreateExportJob(ctx context.Context, job store.ExportJob) error
	CompleteExportJob(ctx context.Context, id string, result store.ExportResult) error
	FailExportJob(ctx context.Context, id string) error
}

// Packager writes export artifacts into its output directory.
type Packager struct {
	store  ArticleStore
	outDir string
	newID  func() string
}

// NewPackager builds a packager writing into outDir.
func NewPackager(articleStore ArticleStore, outDir string) *Packager {
	return &Packager{
		store:  articleStore,
		outDir: outDir,
		newID:  func() string { return uuid.NewString() },
	}
}

// Result describes a finished export.
type Result struct {
	JobID        string
	RecordsPath  string
	ManifestPath string
	RecordCount  int
	ContentHash  string
	ManifestHash string
}

// Export runs one packaging job end to end: select, serialize, hash, build
// and sign the manifest, write both files, and record the job.
func (p *Packager) Export(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryExport, "Export")
	defer timer.Stop()

	jobID := p.newID()
	if err := p.store.CreateExportJob(ctx, store.ExportJob{
		ID:         jobID,
		Scope:      req.Scope,
		MinQuality: req.MinQuality,
		Language:   req.Language,
	}); err != nil {
		return nil, err
	}

	result, err := p.run(ctx, jobID, req)
	if err != nil {
		if failErr := p.store.FailExportJob(ctx, jobID); failErr != nil {
			logging.Get(logging.CategoryExport).Error("Could not mark job %s failed: %v", jobID, failErr)
		}
		return nil, err
	}

	if err := p.store.CompleteExportJob(ctx, jobID, store.ExportResult{
		ArticleCount: result.RecordCount,
		ContentHash:  result.ContentHash,
		ManifestHash: result.ManifestHash,
		FilePath:     result.RecordsPath,
	}); err != nil {
		return nil, err
	}
	logging.Export("Export %s complete: %d records, %s", jobID, result.RecordCount, result.ContentHash)
	return result, nil
}

func (p *Packager) run(ctx context.Context, jobID string, req Request) (*Result, error) {
	articles, err := p.store.ArticlesForExport(ctx, req.Scope, req.MinQuality, req.Language)
	if err != nil {
		return nil, err
	}

	payload, err := SerializeRecords(articles, req.Source, req.Scope)
	if err != nil {
		return nil, err
	}
	contentHash := HashBytes(payload)

	manifest := BuildManifest(jobID, req.Scope, len(articles), contentHash)
	manifestHash, err := SignManifest(&manifest)
	if err != nil {
		return nil, err
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encode manifest: %w", err)
	}

	if err := os.MkdirAll(p.outDir, 0755); err != nil {
		return nil, fmt.Errorf("export: create output dir: %w", err)
	}
	recordsPath := filepath.Join(p.outDir, fmt.Sprintf("export_%s.jsonl", jobID))
	manifestPath := filepath.Join(p.outDir, fmt.Sprintf("export_%s.c2pa.json", jobID))

	if err := os.WriteFile(recordsPath, payload, 0644); err != nil {
		return nil, fmt.Errorf("export: write records: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifestJSON, 0644); err != nil {
		return nil, fmt.Errorf("export: write manifest: %w", err)
	}

	return &Result{
		JobID:        jobID,
		RecordsPath:  recordsPath,
		ManifestPath: manifestPath,
		RecordCount:  len(articles),
		ContentHash:  contentHash,
		ManifestHash: manifestHash,
	}, nil
}

// SerializeRecords renders articles as LF-joined JSON lines with no trailing
// newline.
func SerializeRecords(articles []store.StoredArticle, source types.SourceType, scope string) ([]byte, error) {
	lines := make([]string, 0, len(articles))
	for _, a := range articles {
		record := Record{
			ID:     a.ID,
			Source: fmt.Sprintf("%s:%s", source, scope),
			Knowledge: Knowledge{
				ArticleType:   a.ArticleType,
				Symptom:       a.Symptom,
				Diagnosis:     a.Diagnosis,
				Solution:      a.Solution,
				CodeSnippet:   a.CodeSnippet,
				Language:      a.Language,
				Framework:     a.Framework,
				Tags:          a.Tags,
				Confidence:    a.Confidence,
				ThreadSummary: a.ThreadSummary,
				SourceURL:     a.SourceURL,
			},
			Metadata: Metadata{
				QualityScore: a.QualityScore,
				CreatedAt:    a.CreatedAt,
			},
		}
		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("export: encode record %d: %w", a.ID, err)
		}
		lines = append(lines, string(line))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// HashBytes returns "sha256:" plus the lowercase hex digest.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
