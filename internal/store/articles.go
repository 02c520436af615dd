package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// ThreadStateResolved is the only thread state the persistence path creates:
// a thread reaches the store exactly when its article passed the gate.
const ThreadStateResolved = "RESOLVED"

// StoredArticle is the persisted form of a compiled article.
type StoredArticle struct {
	ID           int64
	ThreadRecord int64
	types.CompiledArticle
	Embedding    []float32 // nil when the provider was unavailable
	QualityScore float64
	Visible      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PersistArticle stores a gated article: it resolves the channel, creates a
// RESOLVED thread record, embeds summary+symptom+solution (nullable on
// provider failure), and inserts the article row in one transaction.
//
// Returns ErrChannelNotFound when the channel is unknown (no orphan threads
// are created) and ErrDuplicateSource with the existing id when an article
// for the same source URL already exists.
func (s *Store) PersistArticle(ctx context.Context, article *types.CompiledArticle, qualityScore float64, source types.SourceType, channelExternalID string, messageCount int) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "PersistArticle")
	defer timer.Stop()

	if article == nil {
		return 0, errors.New("store: nil article")
	}
	if err := article.Validate(); err != nil {
		return 0, fmt.Errorf("store: refusing invalid article: %w", err)
	}

	channel, err := s.ResolveChannel(ctx, source, channelExternalID)
	if err != nil {
		return 0, err
	}

	if article.SourceURL != "" {
		if existing, err := s.articleIDBySourceURL(ctx, article.SourceURL); err != nil {
			return 0, err
		} else if existing != 0 {
			logging.StoreDebug("Article for %s already stored as %d", article.SourceURL, existing)
			return existing, ErrDuplicateSource
		}
	}

	// Embedding failure is non-fatal; the article is stored without a vector.
	var vector []float32
	var embeddingJSON sql.NullString
	if s.embedder != nil {
		text := article.ThreadSummary + " " + article.Symptom + " " + article.Solution
		if vec, err := s.embedder.Embed(ctx, text); err != nil {
			logging.Get(logging.CategoryStore).Warn("Embedding failed for article, storing without vector: %v", err)
		} else if data, err := json.Marshal(vec); err == nil {
			vector = vec
			embeddingJSON = sql.NullString{String: string(data), Valid: true}
		}
	}

	tags, err := json.Marshal(article.Tags)
	if err != nil {
		return 0, fmt.Errorf("failed to encode tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO threads (channel_id, state, message_count) VALUES (?, ?, ?)`,
		channel.ID, ThreadStateResolved, messageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to insert thread: %w", err)
	}
	threadID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read thread id: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO articles (
			thread_id, article_type, symptom, diagnosis, solution,
			code_snippet, language, framework, tags, confidence,
			thread_summary, source_url, embedding, quality_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		threadID, article.ArticleType, article.Symptom, article.Diagnosis,
		article.Solution, article.CodeSnippet, article.Language,
		article.Framework, string(tags), article.Confidence,
		article.ThreadSummary, article.SourceURL, embeddingJSON, qualityScore)
	if err != nil {
		return 0, fmt.Errorf("failed to insert article: %w", err)
	}
	articleID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read article id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit article: %w", err)
	}

	s.indexArticleVector(ctx, articleID, vector)

	logging.Store("Persisted article %d (%s, quality %.2f) for channel %s/%s",
		articleID, article.ArticleType, qualityScore, source, channelExternalID)
	return articleID, nil
}

// indexArticleVector mirrors the article's embedding into the ANN index.
// Failures are non-fatal: the JSON column still serves brute-force search.
func (s *Store) indexArticleVector(ctx context.Context, articleID int64, vector []float32) {
	if !s.vectorExt || vector == nil {
		return
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to serialize vector for article %d: %v", articleID, err)
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vec_articles (rowid, embedding) VALUES (?, ?)`, articleID, blob); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to index article %d in vec_articles: %v", articleID, err)
	}
}

func (s *Store) articleIDBySourceURL(ctx context.Context, sourceURL string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM articles WHERE source_url = ?`, sourceURL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check source url: %w", err)
	}
	return id, nil
}

// GetArticle fetches one article by id.
func (s *Store) GetArticle(ctx context.Context, id int64) (*StoredArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, articleSelect+` WHERE a.id = ?`, id)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load article %d: %w", id, err)
	}
	return article, nil
}

// SetArticleVisibility moderates an article in or out of search and export.
func (s *Store) SetArticleVisibility(ctx context.Context, id int64, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag := 0
	if visible {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET visible = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		flag, id)
	if err != nil {
		return fmt.Errorf("failed to update visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrArticleNotFound
	}
	logging.Store("Article %d visibility set to %v", id, visible)
	return nil
}

// RecompileWithoutAuthor is the consent-revocation hook: articles derived
// from a revoked author must be re-compiled from the remaining messages.
// The contract is declared here; the implementation is deferred until raw
// thread content is retained long enough to recompile from.
func (s *Store) RecompileWithoutAuthor(ctx context.Context, authorHash string) error {
	return fmt.Errorf("recompile after consent revocation for %s: %w", authorHash, ErrNotImplemented)
}

const articleSelect = `
	SELECT a.id, a.thread_id, a.article_type, a.symptom, a.diagnosis,
	       a.solution, a.code_snippet, a.language, a.framework, a.tags,
	       a.confidence, a.thread_summary, a.source_url, a.embedding,
	       a.quality_score, a.visible, a.created_at, a.updated_at
	FROM articles a`

func scanArticle(row rowScanner) (*StoredArticle, error) {
	var a StoredArticle
	var codeSnippet, framework, summary, sourceURL, embeddingJSON sql.NullString
	var tagsJSON string
	var visible int

	if err := row.Scan(&a.ID, &a.ThreadRecord, &a.ArticleType, &a.Symptom,
		&a.Diagnosis, &a.Solution, &codeSnippet, &a.Language, &framework,
		&tagsJSON, &a.Confidence, &summary, &sourceURL, &embeddingJSON,
		&a.QualityScore, &visible, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.CodeSnippet = codeSnippet.String
	a.Framework = framework.String
	a.ThreadSummary = summary.String
	a.SourceURL = sourceURL.String
	a.Visible = visible == 1
	if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if embeddingJSON.Valid {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &a.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return &a, nil
}
