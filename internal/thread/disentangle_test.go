package thread

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"threadloom/internal/embedding"
	"threadloom/internal/types"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id, author, content string, offset time.Duration) types.RawMessage {
	return types.RawMessage{
		ID:         id,
		AuthorHash: author,
		Content:    content,
		Timestamp:  baseTime.Add(offset),
	}
}

// pairEngine returns a mock whose pairwise similarity between the two given
// texts is exactly sim; everything else is orthogonal.
func pairEngine(textA, textB string, sim float64) *embedding.Mock {
	vecA := []float32{1, 0, 0}
	vecB := []float32{float32(sim), float32(math.Sqrt(1 - sim*sim)), 0}
	return &embedding.Mock{
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			switch text {
			case textA:
				return vecA, nil
			case textB:
				return vecB, nil
			}
			return []float32{0, 0, 1}, nil
		},
	}
}

func TestCluster_Empty(t *testing.T) {
	engine := NewEngine(embedding.NewMock())
	if got := engine.Cluster(context.Background(), nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestCluster_SingleMessage(t *testing.T) {
	engine := NewEngine(embedding.NewMock())
	threads := engine.Cluster(context.Background(), []types.RawMessage{
		msg("m1", "alice", "hello", 0),
	})
	if len(threads) != 1 || len(threads[0]) != 1 || threads[0][0].ID != "m1" {
		t.Fatalf("expected one singleton thread, got %v", threads)
	}
}

func TestCluster_TwoInterleavedConversations(t *testing.T) {
	engine := NewEngine(embedding.NewMock())

	messages := []types.RawMessage{
		msg("g1", "alice", "good morning everyone", 0),
		msg("t1", "bob", "my build fails with a memory error", time.Minute),
		msg("g2", "carol", "good morning team", 2*time.Minute),
		msg("t2", "dave", "the build fails with memory error for me too", 3*time.Minute),
	}

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d: %v", len(threads), threads)
	}

	byFirst := map[string][]string{}
	for _, th := range threads {
		var ids []string
		for _, m := range th {
			ids = append(ids, m.ID)
		}
		byFirst[th[0].ID] = ids
	}

	if got := byFirst["g1"]; len(got) != 2 || got[1] != "g2" {
		t.Errorf("greeting thread wrong: %v", got)
	}
	if got := byFirst["t1"]; len(got) != 2 || got[1] != "t2" {
		t.Errorf("technical thread wrong: %v", got)
	}
}

func TestCluster_EveryMessageInExactlyOneThread(t *testing.T) {
	engine := NewEngine(embedding.NewMock())

	var messages []types.RawMessage
	for i := 0; i < 20; i++ {
		messages = append(messages, msg(
			fmt.Sprintf("m%d", i),
			fmt.Sprintf("user%d", i%5),
			fmt.Sprintf("message number %d about topic %d", i, i%3),
			time.Duration(i)*time.Minute,
		))
	}

	threads := engine.Cluster(context.Background(), messages)

	seen := map[string]int{}
	for _, th := range threads {
		for _, m := range th {
			seen[m.ID]++
		}
	}
	if len(seen) != len(messages) {
		t.Errorf("expected %d distinct messages across threads, got %d", len(messages), len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("message %s appears %d times", id, count)
		}
	}
}

func TestCluster_ThreadsSortedByTimestamp(t *testing.T) {
	engine := NewEngine(embedding.NewMock())

	// Reply chain guarantees one component regardless of content.
	messages := []types.RawMessage{
		msg("m2", "bob", "completely unrelated words here", 2*time.Minute),
		msg("m1", "alice", "original question text", 0),
		msg("m3", "carol", "different vocabulary entirely", 4*time.Minute),
	}
	messages[0].ReplyTo = "m1"
	messages[2].ReplyTo = "m2"

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 1 {
		t.Fatalf("reply chain should form one thread, got %d", len(threads))
	}
	for i := 1; i < len(threads[0]); i++ {
		if threads[0][i].Timestamp.Before(threads[0][i-1].Timestamp) {
			t.Errorf("thread not sorted at index %d", i)
		}
	}
}

func TestCluster_ExplicitReplyOverridesSimilarity(t *testing.T) {
	engine := NewEngine(pairEngine("question", "answer", 0.0))

	messages := []types.RawMessage{
		msg("m1", "alice", "question", 0),
		msg("m2", "bob", "answer", time.Minute),
	}
	messages[1].ReplyTo = "m1"

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 1 || len(threads[0]) != 2 {
		t.Fatalf("reply edge must link dissimilar messages, got %v", threads)
	}
}

func TestCluster_MentionLinksMessages(t *testing.T) {
	engine := NewEngine(pairEngine("first", "second", 0.0))

	messages := []types.RawMessage{
		msg("m1", "alice", "first", 0),
		msg("m2", "bob", "second", time.Minute),
	}
	messages[1].Mentions = []string{"alice"}

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 1 {
		t.Fatalf("mention edge must link messages, got %d threads", len(threads))
	}
}

func TestCluster_TemporalGateBlocksSimilarMessages(t *testing.T) {
	engine := NewEngine(pairEngine("same topic", "same topic indeed", 0.99))

	messages := []types.RawMessage{
		msg("m1", "alice", "same topic", 0),
		msg("m2", "bob", "same topic indeed", 5*time.Hour),
	}

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 2 {
		t.Fatalf("messages beyond the temporal window must not link, got %d threads", len(threads))
	}
}

func TestCluster_TemporalGateBlocksExplicitEdges(t *testing.T) {
	engine := NewEngine(pairEngine("old question", "very late answer", 0.99))

	messages := []types.RawMessage{
		msg("m1", "alice", "old question", 0),
		msg("m2", "bob", "very late answer", 6*time.Hour),
	}
	messages[1].ReplyTo = "m1"

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 2 {
		t.Fatal("temporal gate applies before explicit edges")
	}
}

func TestCluster_SameAuthorBoost(t *testing.T) {
	// Raw similarity 0.25: below threshold alone, above with the boost.
	messages := []types.RawMessage{
		msg("m1", "alice", "anyone tried the new release", 0),
		msg("m2", "alice", "the install keeps hanging", 5*time.Minute),
	}
	engine := NewEngine(pairEngine(messages[0].Content, messages[1].Content, 0.25))

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 1 {
		t.Fatalf("same-author boost should link, got %d threads", len(threads))
	}

	// Same pair outside the boost window stays separate.
	messages[1].Timestamp = baseTime.Add(11 * time.Minute)
	threads = engine.Cluster(context.Background(), messages)
	if len(threads) != 2 {
		t.Fatalf("boost window expired, expected separate threads, got %d", len(threads))
	}
}

func TestCluster_CodeBoost(t *testing.T) {
	messages := []types.RawMessage{
		msg("m1", "alice", "parser crash trace", 0),
		msg("m2", "bob", "patch attached", 5*time.Minute),
	}
	engine := NewEngine(pairEngine(messages[0].Content, messages[1].Content, 0.30))

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 2 {
		t.Fatalf("similarity 0.30 alone should not link, got %d threads", len(threads))
	}

	messages[0].HasCode = true
	messages[1].HasCode = true
	threads = engine.Cluster(context.Background(), messages)
	if len(threads) != 1 {
		t.Fatalf("code boost should link, got %d threads", len(threads))
	}
}

func TestCluster_EmbeddingFailureDegradesToSingletons(t *testing.T) {
	broken := &embedding.Mock{
		EmbedFunc: func(context.Context, string) ([]float32, error) {
			return nil, errors.New("backend down")
		},
	}
	engine := NewEngine(broken)

	messages := []types.RawMessage{
		msg("m1", "alice", "the build fails with memory error", 0),
		msg("m2", "bob", "the build fails with memory error here too", time.Minute),
		msg("m3", "carol", "reply incoming", 2*time.Minute),
	}
	messages[2].ReplyTo = "m2"

	threads := engine.Cluster(context.Background(), messages)
	if len(threads) != 2 {
		t.Fatalf("expected singleton plus reply pair, got %d threads", len(threads))
	}

	seen := map[string]bool{}
	for _, th := range threads {
		for _, m := range th {
			seen[m.ID] = true
		}
	}
	if len(seen) != 3 {
		t.Errorf("degraded mode must keep all messages, got %d", len(seen))
	}
}

func TestPartitionAtGaps(t *testing.T) {
	messages := []types.RawMessage{
		msg("m1", "alice", "a", 0),
		msg("m2", "bob", "b", time.Hour),
		msg("m3", "carol", "c", 6*time.Hour),
		msg("m4", "dave", "d", 7*time.Hour),
	}
	parts := partitionAtGaps(messages)
	if len(parts) != 2 {
		t.Fatalf("expected split at the 5h gap, got %d parts", len(parts))
	}
	if len(parts[0]) != 2 || len(parts[1]) != 2 {
		t.Errorf("wrong part sizes: %d and %d", len(parts[0]), len(parts[1]))
	}
}
