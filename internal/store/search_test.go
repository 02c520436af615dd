package store

import (
	"context"
	"errors"
	"testing"

	"threadloom/internal/embedding"
	"threadloom/internal/types"
)

func persistTwo(t *testing.T, s *Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	registerTestChannel(t, s)

	build := testArticle()
	buildID, err := s.PersistArticle(ctx, build, 0.85, types.SourceDiscord, "chan-9", 4)
	if err != nil {
		t.Fatalf("persist build article: %v", err)
	}

	auth := &types.CompiledArticle{
		ArticleType:   types.ClassQuestionAnswer,
		Symptom:       "OAuth login redirects to a blank page",
		Diagnosis:     "the callback URL is not whitelisted in the provider console",
		Solution:      "add the exact redirect URI to the allowed callback list",
		Language:      "general",
		Tags:          []string{"oauth", "auth", "redirect"},
		Confidence:    0.8,
		ThreadSummary: "oauth redirect fixed via callback whitelist",
	}
	authID, err := s.PersistArticle(ctx, auth, 0.75, types.SourceDiscord, "chan-9", 6)
	if err != nil {
		t.Fatalf("persist auth article: %v", err)
	}
	return buildID, authID
}

func TestSearchArticles_Hybrid(t *testing.T) {
	s := newTestStore(t, embedding.NewMock())
	buildID, _ := persistTwo(t, s)

	results, err := s.SearchArticles(context.Background(), "build out of memory heap", 10, "")
	if err != nil {
		t.Fatalf("SearchArticles failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Article.ID != buildID {
		t.Errorf("build article should rank first, got %d", results[0].Article.ID)
	}
}

func TestPersistArticle_PopulatesVectorIndex(t *testing.T) {
	s := newTestStore(t, embedding.NewMock())
	if !s.vectorExt {
		t.Fatal("sqlite-vec is linked in, the extension must be active")
	}
	persistTwo(t, s)

	var n int
	if err := s.DB().QueryRow(`SELECT count(*) FROM vec_articles`).Scan(&n); err != nil {
		t.Fatalf("count index rows: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 indexed vectors, got %d", n)
	}
}

func TestNearestArticles_RanksByCosineDistance(t *testing.T) {
	s := newTestStore(t, embedding.NewMock())
	buildID, authID := persistTwo(t, s)
	ctx := context.Background()

	queryVec, err := s.embedder.Embed(ctx, "oauth redirect callback blank page")
	if err != nil {
		t.Fatal(err)
	}
	nearest, err := s.nearestArticles(ctx, queryVec, 10, "")
	if err != nil {
		t.Fatalf("nearestArticles failed: %v", err)
	}
	if len(nearest) != 2 {
		t.Fatalf("expected both articles, got %d", len(nearest))
	}
	if nearest[0].ID != authID || nearest[1].ID != buildID {
		t.Errorf("wrong neighbor order: %d then %d", nearest[0].ID, nearest[1].ID)
	}
}

func TestSearchArticles_AnnSkipsHidden(t *testing.T) {
	s := newTestStore(t, embedding.NewMock())
	buildID, _ := persistTwo(t, s)
	ctx := context.Background()

	if err := s.SetArticleVisibility(ctx, buildID, false); err != nil {
		t.Fatal(err)
	}
	results, err := s.SearchArticles(ctx, "build out of memory heap", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Article.ID == buildID {
			t.Error("hidden article surfaced through the vector index")
		}
	}
}

func TestSearchArticles_EmptyIndexFallsBackToKeywords(t *testing.T) {
	mock := embedding.NewMock()
	offline := errors.New("engine offline")
	mock.EmbedFunc = func(context.Context, string) ([]float32, error) { return nil, offline }

	s := newTestStore(t, mock)
	_, authID := persistTwo(t, s) // stored without vectors, index stays empty

	mock.EmbedFunc = nil // engine recovers before the query
	results, err := s.SearchArticles(context.Background(), "oauth callback redirect", 10, "")
	if err != nil {
		t.Fatalf("SearchArticles failed: %v", err)
	}
	if len(results) == 0 || results[0].Article.ID != authID {
		t.Fatalf("keyword fallback should find the oauth article: %+v", results)
	}
}

func TestSearchArticles_KeywordOnlyWithoutEmbedder(t *testing.T) {
	s := newTestStore(t, nil)
	_, authID := persistTwo(t, s)

	results, err := s.SearchArticles(context.Background(), "oauth callback redirect", 10, "")
	if err != nil {
		t.Fatalf("SearchArticles failed: %v", err)
	}
	if len(results) == 0 || results[0].Article.ID != authID {
		t.Fatalf("keyword search should find the oauth article: %+v", results)
	}
}

func TestSearchArticles_SkipsHidden(t *testing.T) {
	s := newTestStore(t, nil)
	buildID, _ := persistTwo(t, s)
	ctx := context.Background()

	if err := s.SetArticleVisibility(ctx, buildID, false); err != nil {
		t.Fatal(err)
	}
	results, _ := s.SearchArticles(ctx, "webpack heap memory build", 10, "")
	for _, r := range results {
		if r.Article.ID == buildID {
			t.Error("hidden article returned by search")
		}
	}
}

func TestSearchArticles_LanguageFilter(t *testing.T) {
	s := newTestStore(t, nil)
	buildID, _ := persistTwo(t, s)

	results, err := s.SearchArticles(context.Background(), "build memory oauth redirect", 10, "javascript")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Article.ID != buildID {
			t.Errorf("language filter leaked article %d", r.Article.ID)
		}
	}
}

func TestArticlesForExport_Filters(t *testing.T) {
	s := newTestStore(t, nil)
	buildID, authID := persistTwo(t, s)
	ctx := context.Background()

	all, err := s.ArticlesForExport(ctx, "guild-1", 0.70, "")
	if err != nil {
		t.Fatalf("ArticlesForExport failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both articles, got %d", len(all))
	}
	if all[0].ID != buildID || all[1].ID != authID {
		t.Error("export order must be deterministic by id")
	}

	high, _ := s.ArticlesForExport(ctx, "guild-1", 0.80, "")
	if len(high) != 1 || high[0].ID != buildID {
		t.Errorf("quality floor not applied: %+v", high)
	}

	js, _ := s.ArticlesForExport(ctx, "guild-1", 0.70, "javascript")
	if len(js) != 1 || js[0].ID != buildID {
		t.Errorf("language filter not applied: %+v", js)
	}

	none, _ := s.ArticlesForExport(ctx, "other-guild", 0.70, "")
	if len(none) != 0 {
		t.Error("scope filter not applied")
	}

	if err := s.SetArticleVisibility(ctx, authID, false); err != nil {
		t.Fatal(err)
	}
	visible, _ := s.ArticlesForExport(ctx, "guild-1", 0.70, "")
	if len(visible) != 1 {
		t.Error("hidden article included in export")
	}
}

func TestExportJob_Lifecycle(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	job := ExportJob{ID: "exp-1", Scope: "guild-1", MinQuality: 0.70, Language: "javascript"}
	if err := s.CreateExportJob(ctx, job); err != nil {
		t.Fatalf("CreateExportJob failed: %v", err)
	}

	got, err := s.GetExportJob(ctx, "exp-1")
	if err != nil || got.Status != ExportStatusPending {
		t.Fatalf("pending job wrong: %+v (%v)", got, err)
	}

	result := ExportResult{
		ArticleCount: 12,
		ContentHash:  "sha256:abc",
		ManifestHash: "sha256:def",
		FilePath:     "/tmp/export_exp-1.jsonl",
	}
	if err := s.CompleteExportJob(ctx, "exp-1", result); err != nil {
		t.Fatalf("CompleteExportJob failed: %v", err)
	}
	got, _ = s.GetExportJob(ctx, "exp-1")
	if got.Status != ExportStatusComplete || got.ArticleCount != 12 || got.ContentHash != "sha256:abc" {
		t.Errorf("completed job wrong: %+v", got)
	}
	if got.ManifestHash != "sha256:def" || !got.ConsentVerified {
		t.Errorf("manifest fields wrong: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	if err := s.CompleteExportJob(ctx, "missing", ExportResult{}); err == nil {
		t.Error("unknown job id must error")
	}
}
