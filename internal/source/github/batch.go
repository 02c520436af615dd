package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threadloom/internal/identity"
	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// AnswerPrefix marks an accepted answer that was appended to the thread
// because it was not already present among the comments.
const AnswerPrefix = "[ACCEPTED ANSWER]"

// ParseRepo splits an "owner/repo" slug.
func ParseRepo(slug string) (owner, name string, err error) {
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: repository must be owner/repo, got %q", slug)
	}
	return parts[0], parts[1], nil
}

// DiscussionBatch converts one discussion into a pre-threaded batch under
// the given repository slug. The synthetic first message carries the title
// as a markdown heading; every comment replies to the discussion node. An
// accepted answer missing from the comments is appended with AnswerPrefix.
func DiscussionBatch(d Discussion, repoSlug string) types.Batch {
	messages := make([]types.RawMessage, 0, len(d.Comments.Nodes)+2)

	opContent := fmt.Sprintf("# %s\n\n%s", d.Title, d.Body)
	messages = append(messages, types.RawMessage{
		ID:         d.ID,
		AuthorHash: identity.HashString(d.Author.Login),
		Content:    opContent,
		Timestamp:  d.CreatedAt,
		HasCode:    types.HasCodeFence(opContent),
	})

	seen := make(map[string]bool, len(d.Comments.Nodes))
	for _, comment := range d.Comments.Nodes {
		seen[comment.ID] = true
		messages = append(messages, commentMessage(comment, d.ID, ""))
	}
	if d.Answer != nil && !seen[d.Answer.ID] {
		messages = append(messages, commentMessage(*d.Answer, d.ID, AnswerPrefix+" "))
	}

	return types.Batch{
		Source:      types.SourceGitHub,
		ServerScope: repoSlug,
		ChannelID:   repoSlug,
		Messages:    messages,
		CreatedAt:   d.CreatedAt,
		PreThreaded: true,
		SourceURL:   d.URL,
	}
}

func commentMessage(c Comment, discussionID, prefix string) types.RawMessage {
	content := prefix + c.Body
	return types.RawMessage{
		ID:         c.ID,
		AuthorHash: identity.HashString(c.Author.Login),
		Content:    content,
		Timestamp:  c.CreatedAt,
		ReplyTo:    discussionID,
		HasCode:    types.HasCodeFence(content),
	}
}

// =============================================================================
// FETCHER
// =============================================================================

// BatchHandler receives one converted discussion batch.
type BatchHandler func(ctx context.Context, batch types.Batch) error

// Fetcher periodically pulls a repository's discussions and hands each one
// to the batch handler.
type Fetcher struct {
	client  *Client
	handler BatchHandler
}

// NewFetcher builds a fetcher dispatching into handler.
func NewFetcher(client *Client, handler BatchHandler) *Fetcher {
	return &Fetcher{client: client, handler: handler}
}

// FetchOnce pulls one round of discussions and dispatches them. It returns
// the number of batches handed off; handler errors fail the round.
func (f *Fetcher) FetchOnce(ctx context.Context, repoSlug string, opts FetchOptions) (int, error) {
	owner, name, err := ParseRepo(repoSlug)
	if err != nil {
		return 0, err
	}

	discussions, err := f.client.Discussions(ctx, owner, name, opts)
	if err != nil {
		return 0, fmt.Errorf("github: fetch %s: %w", repoSlug, err)
	}

	for i, d := range discussions {
		batch := DiscussionBatch(d, repoSlug)
		if err := f.handler(ctx, batch); err != nil {
			return i, fmt.Errorf("github: dispatch discussion %s: %w", d.ID, err)
		}
	}
	logging.Ingest("Dispatched %d discussions from %s", len(discussions), repoSlug)
	return len(discussions), nil
}

// Run polls the repository until the context is cancelled.
func (f *Fetcher) Run(ctx context.Context, repoSlug string, interval time.Duration, opts FetchOptions) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := f.FetchOnce(ctx, repoSlug, opts); err != nil {
			logging.Get(logging.CategoryIngest).Error("Discussion poll of %s failed: %v", repoSlug, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
