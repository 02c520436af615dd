package store

import (
	"fmt"

	"threadloom/internal/logging"
)

// initialize creates the required tables and indexes.
func (s *Store) initialize() error {
	channelsTable := `
	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_type TEXT NOT NULL,
		external_id TEXT NOT NULL,
		server_scope TEXT NOT NULL,
		name TEXT,
		monitored INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_type, external_id)
	);
	CREATE INDEX IF NOT EXISTS idx_channels_scope ON channels(server_scope);
	`

	threadsTable := `
	CREATE TABLE IF NOT EXISTS threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		state TEXT NOT NULL DEFAULT 'RESOLVED',
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_threads_channel ON threads(channel_id);
	`

	articlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		article_type TEXT NOT NULL,
		symptom TEXT NOT NULL,
		diagnosis TEXT NOT NULL,
		solution TEXT NOT NULL,
		code_snippet TEXT,
		language TEXT NOT NULL DEFAULT 'general',
		framework TEXT,
		tags TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL DEFAULT 0,
		thread_summary TEXT,
		source_url TEXT,
		embedding TEXT,
		quality_score REAL NOT NULL,
		visible INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_articles_thread ON articles(thread_id);
	CREATE INDEX IF NOT EXISTS idx_articles_type ON articles(article_type);
	CREATE INDEX IF NOT EXISTS idx_articles_language ON articles(language);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_source_url
		ON articles(source_url) WHERE source_url IS NOT NULL AND source_url != '';
	`

	exportJobsTable := `
	CREATE TABLE IF NOT EXISTS export_jobs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		min_quality REAL NOT NULL,
		language TEXT,
		article_count INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT,
		manifest_hash TEXT,
		file_path TEXT,
		consent_verified INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);
	`

	for name, ddl := range map[string]string{
		"channels":    channelsTable,
		"threads":     threadsTable,
		"articles":    articlesTable,
		"export_jobs": exportJobsTable,
	} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", name, err)
		}
		logging.StoreDebug("Schema ready: %s", name)
	}
	return nil
}
