// Package github pulls discussions from the GitHub GraphQL API and converts
// them into pre-threaded batches. Forum content is public, so batches from
// this package skip consent filtering and disentanglement downstream.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"threadloom/internal/logging"
)

const (
	defaultEndpoint = "https://api.github.com/graphql"

	// pageSize is the discussions fetched per GraphQL page.
	pageSize = 25

	// commentPageSize caps comments per discussion. Longer discussions are
	// truncated; the accepted answer is still carried via the answer field.
	commentPageSize = 100
)

// Client is a thin GraphQL-over-HTTP client for the discussions surface.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// NewClient builds a client authenticating with the given token.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   defaultEndpoint,
		token:      token,
	}
}

// =============================================================================
// API TYPES
// =============================================================================

// Author is the posting user. Only the login is requested; it is hashed
// before any message leaves the fetcher.
type Author struct {
	Login string `json:"login"`
}

// Comment is one reply inside a discussion.
type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Category is a discussion category of the repository.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Discussion is one forum thread with its comments and optional accepted
// answer.
type Discussion struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Category  Category  `json:"category"`
	Comments  struct {
		Nodes []Comment `json:"nodes"`
	} `json:"comments"`
	Answer *Comment `json:"answer"`
}

// =============================================================================
// QUERIES
// =============================================================================

var discussionsQuery = fmt.Sprintf(`
query($owner: String!, $name: String!, $first: Int!, $after: String, $category: ID) {
  repository(owner: $owner, name: $name) {
    discussions(first: $first, after: $after, categoryId: $category,
                orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id title body url createdAt
        author { login }
        category { id name }
        comments(first: %d) { nodes { id body createdAt author { login } } }
        answer { id body createdAt author { login } }
      }
    }
  }
}`, commentPageSize)

const categoriesQuery = `
query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    discussionCategories(first: 25) {
      nodes { id name }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *Client) do(ctx context.Context, query string, variables map[string]any, data any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("github graphql error: %s", strings.Join(messages, "; "))
	}
	if err := json.Unmarshal(envelope.Data, data); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

// Categories discovers the discussion categories of a repository.
func (c *Client) Categories(ctx context.Context, owner, name string) ([]Category, error) {
	var data struct {
		Repository struct {
			DiscussionCategories struct {
				Nodes []Category `json:"nodes"`
			} `json:"discussionCategories"`
		} `json:"repository"`
	}
	err := c.do(ctx, categoriesQuery, map[string]any{
		"owner": owner,
		"name":  name,
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.Repository.DiscussionCategories.Nodes, nil
}

// FetchOptions narrows a discussion pull.
type FetchOptions struct {
	// Limit caps the discussions returned; 0 means fetch everything.
	Limit int

	// CategoryID restricts the pull to one discussion category.
	CategoryID string
}

// Discussions pulls discussions with cursor pagination until the limit or
// the last page is reached.
func (c *Client) Discussions(ctx context.Context, owner, name string, opts FetchOptions) ([]Discussion, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "Discussions")
	defer timer.Stop()

	var out []Discussion
	var after any

	for {
		first := pageSize
		if opts.Limit > 0 && opts.Limit-len(out) < first {
			first = opts.Limit - len(out)
		}

		variables := map[string]any{
			"owner": owner,
			"name":  name,
			"first": first,
			"after": after,
		}
		if opts.CategoryID != "" {
			variables["category"] = opts.CategoryID
		} else {
			variables["category"] = nil
		}

		var data struct {
			Repository struct {
				Discussions struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []Discussion `json:"nodes"`
				} `json:"discussions"`
			} `json:"repository"`
		}
		if err := c.do(ctx, discussionsQuery, variables, &data); err != nil {
			return nil, err
		}

		page := data.Repository.Discussions
		out = append(out, page.Nodes...)
		logging.IngestDebug("Fetched %d discussions from %s/%s (total %d)",
			len(page.Nodes), owner, name, len(out))

		if opts.Limit > 0 && len(out) >= opts.Limit {
			return out[:opts.Limit], nil
		}
		if !page.PageInfo.HasNextPage || len(page.Nodes) == 0 {
			return out, nil
		}
		after = page.PageInfo.EndCursor
	}
}
