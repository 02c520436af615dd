package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"threadloom/internal/embedding"
	"threadloom/internal/logging"
)

// Hybrid search blend. Vector similarity dominates; keyword overlap keeps
// results sane when the embedder is down or the query is very short.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// ANN candidate headroom over the requested limit, so keyword blending still
// has neighbors to promote.
const annOversample = 4

// SearchResult pairs an article with its hybrid relevance score.
type SearchResult struct {
	Article StoredArticle
	Score   float64
}

// SearchArticles runs hybrid retrieval over visible articles: cosine
// similarity on stored embeddings blended with keyword overlap. When no
// embedder is configured (or the query fails to embed) the keyword score
// carries the full weight.
func (s *Store) SearchArticles(ctx context.Context, query string, limit int, languageFilter string) ([]SearchResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchArticles")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			logging.StoreDebug("Query embedding failed, keyword-only search: %v", err)
		} else {
			queryVec = vec
		}
	}

	candidates, err := s.candidateArticles(ctx, queryVec, limit, languageFilter)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	results := make([]SearchResult, 0, len(candidates))
	for _, article := range candidates {
		score := scoreArticle(article, queryVec, terms)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{Article: article, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func scoreArticle(article StoredArticle, queryVec []float32, terms []string) float64 {
	keyword := keywordScore(article, terms)

	if queryVec == nil || article.Embedding == nil {
		return keyword
	}
	cosine, err := embedding.CosineSimilarity(queryVec, article.Embedding)
	if err != nil {
		return keyword
	}
	return vectorWeight*cosine + keywordWeight*keyword
}

// keywordScore is the fraction of query terms appearing in the article text.
func keywordScore(article StoredArticle, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(article.Symptom + " " + article.Diagnosis + " " +
		article.Solution + " " + article.ThreadSummary + " " + strings.Join(article.Tags, " "))
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// candidateArticles picks the scoring set. With sqlite-vec and a query
// vector the ANN index narrows it to the nearest neighbors; otherwise (or on
// any index failure) every visible article is scanned.
func (s *Store) candidateArticles(ctx context.Context, queryVec []float32, limit int, languageFilter string) ([]StoredArticle, error) {
	if s.vectorExt && queryVec != nil {
		nearest, err := s.nearestArticles(ctx, queryVec, limit*annOversample, languageFilter)
		if err != nil {
			logging.StoreDebug("ANN search failed, falling back to full scan: %v", err)
		} else if len(nearest) > 0 {
			return nearest, nil
		}
		// An empty index (articles persisted while the embedder was down)
		// still has keyword-searchable rows.
	}
	return s.visibleArticles(ctx, languageFilter)
}

// nearestArticles returns the k visible articles closest to the query vector
// by cosine distance, nearest first.
func (s *Store) nearestArticles(ctx context.Context, queryVec []float32, k int, languageFilter string) ([]StoredArticle, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := articleSelect + `
	JOIN vec_articles v ON v.rowid = a.id
	WHERE a.visible = 1`
	var args []any
	if languageFilter != "" {
		query += ` AND a.language = ?`
		args = append(args, languageFilter)
	}
	query += ` ORDER BY vec_distance_cosine(v.embedding, ?) ASC LIMIT ?`
	args = append(args, blob, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vec search failed: %w", err)
	}
	defer rows.Close()

	var out []StoredArticle
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *article)
	}
	return out, rows.Err()
}

func (s *Store) visibleArticles(ctx context.Context, languageFilter string) ([]StoredArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := articleSelect + ` WHERE a.visible = 1`
	var args []any
	if languageFilter != "" {
		query += ` AND a.language = ?`
		args = append(args, languageFilter)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var out []StoredArticle
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *article)
	}
	return out, rows.Err()
}

// ArticlesForExport selects visible articles joined through their channel to
// the requested scope, at or above the quality floor, optionally filtered by
// language. Ordered by id for deterministic export output.
func (s *Store) ArticlesForExport(ctx context.Context, scope string, minQuality float64, languageFilter string) ([]StoredArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := articleSelect + `
	JOIN threads t ON t.id = a.thread_id
	JOIN channels c ON c.id = t.channel_id
	WHERE a.visible = 1 AND c.server_scope = ? AND a.quality_score >= ?`
	args := []any{scope, minQuality}
	if languageFilter != "" {
		query += ` AND a.language = ?`
		args = append(args, languageFilter)
	}
	query += ` ORDER BY a.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query export articles: %w", err)
	}
	defer rows.Close()

	var out []StoredArticle
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *article)
	}
	return out, rows.Err()
}
