package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"threadloom/internal/types"
)

// =============================================================================
// STUBS
// =============================================================================

type stubDisentangler struct {
	threads []types.Thread
}

func (s *stubDisentangler) Cluster(_ context.Context, msgs []types.RawMessage) []types.Thread {
	if s.threads != nil {
		return s.threads
	}
	return []types.Thread{types.Thread(msgs)}
}

type stubClassifier struct {
	label types.Classification
	err   error
	calls int
}

func (s *stubClassifier) Classify(context.Context, types.Thread) (types.Classification, error) {
	s.calls++
	return s.label, s.err
}

type stubEvaluator struct {
	eval  types.Evaluation
	err   error
	calls int
}

func (s *stubEvaluator) Evaluate(context.Context, types.Thread) (types.Evaluation, error) {
	s.calls++
	return s.eval, s.err
}

type stubCompiler struct {
	article *types.CompiledArticle
	err     error
	calls   int
}

func (s *stubCompiler) Compile(context.Context, types.Thread, types.Evaluation, string) (*types.CompiledArticle, error) {
	s.calls++
	return s.article, s.err
}

func newRuntime(c *stubClassifier, e *stubEvaluator, co *stubCompiler) (*Runtime, *MemoryCheckpoints) {
	checkpoints := NewMemoryCheckpoints()
	return &Runtime{
		Disentangler: &stubDisentangler{},
		Classifier:   c,
		Evaluator:    e,
		Compiler:     co,
		Checkpoints:  checkpoints,
	}, checkpoints
}

func batchMessages(n int) []types.RawMessage {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]types.RawMessage, n)
	for i := range out {
		out[i] = types.RawMessage{
			ID:        "m" + string(rune('a'+i)),
			Content:   "message content",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

// =============================================================================
// RUNTIME
// =============================================================================

func TestRun_HappyPath(t *testing.T) {
	classifier := &stubClassifier{label: types.ClassTroubleshooting}
	evaluator := &stubEvaluator{eval: types.Evaluation{HasSolution: true, HasCode: true, IsResolved: true}}
	compiler := &stubCompiler{article: strongArticle(types.ClassTroubleshooting)}
	rt, checkpoints := newRuntime(classifier, evaluator, compiler)

	final, err := rt.Run(context.Background(), State{
		ThreadID: "t1",
		Source:   types.SourceDiscord,
		Messages: batchMessages(4),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.Article == nil {
		t.Fatal("expected compiled article")
	}
	if final.QualityScore < QualityThreshold {
		t.Errorf("score %v below threshold", final.QualityScore)
	}
	if final.RetryCount != 0 {
		t.Errorf("passing run should not consume retries, got %d", final.RetryCount)
	}
	if compiler.calls != 1 {
		t.Errorf("expected one compile, got %d", compiler.calls)
	}
	if _, ok, _ := checkpoints.Load(context.Background(), "t1"); !ok {
		t.Error("terminal transition must checkpoint")
	}
}

func TestRun_NoiseShortCircuit(t *testing.T) {
	classifier := &stubClassifier{label: types.ClassNoise}
	evaluator := &stubEvaluator{}
	compiler := &stubCompiler{}
	rt, _ := newRuntime(classifier, evaluator, compiler)

	final, err := rt.Run(context.Background(), State{ThreadID: "t1", Messages: batchMessages(2)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.Classification != types.ClassNoise || final.ArticleType != "" {
		t.Errorf("wrong terminal state: %+v", final)
	}
	if final.Article != nil || final.QualityScore != 0 {
		t.Error("noise must produce no article and zero score")
	}
	if evaluator.calls != 0 || compiler.calls != 0 {
		t.Errorf("noise must short-circuit, evaluator=%d compiler=%d", evaluator.calls, compiler.calls)
	}
}

func TestRun_SuspendAndResume(t *testing.T) {
	classifier := &stubClassifier{label: types.ClassQuestionAnswer}
	evaluator := &stubEvaluator{eval: types.Evaluation{}}
	compiler := &stubCompiler{article: strongArticle(types.ClassQuestionAnswer)}
	rt, checkpoints := newRuntime(classifier, evaluator, compiler)
	ctx := context.Background()

	first, err := rt.Run(ctx, State{ThreadID: "t1", Messages: batchMessages(3)})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if !first.Suspended {
		t.Fatal("unanswered question must suspend")
	}
	if compiler.calls != 0 {
		t.Error("suspended run must not compile")
	}
	if _, ok, _ := checkpoints.Load(ctx, "t1"); !ok {
		t.Fatal("suspension must checkpoint")
	}

	// An answer arrives.
	evaluator.eval = types.Evaluation{HasSolution: true}
	more := batchMessages(5)[3:]
	second, err := rt.Run(ctx, State{ThreadID: "t1", Messages: more})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Suspended {
		t.Fatal("resumed run should complete")
	}
	if len(second.Messages) != 5 {
		t.Errorf("merged state should hold all 5 messages, got %d", len(second.Messages))
	}
	if second.Article == nil {
		t.Error("resumed run should produce an article")
	}
}

func TestRun_BoundedRetry(t *testing.T) {
	weak := &types.CompiledArticle{
		ArticleType:   types.ClassTroubleshooting,
		Symptom:       "it broke",
		Diagnosis:     "unclear",
		Solution:      "restart it",
		Tags:          []string{"misc"},
		Confidence:    0.5,
		ThreadSummary: "x",
	}
	classifier := &stubClassifier{label: types.ClassTroubleshooting}
	evaluator := &stubEvaluator{eval: types.Evaluation{HasSolution: true, HasCode: true}}
	compiler := &stubCompiler{article: weak}
	rt, _ := newRuntime(classifier, evaluator, compiler)

	final, err := rt.Run(context.Background(), State{ThreadID: "t1", Messages: batchMessages(4)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if compiler.calls != MaxRetries {
		t.Errorf("expected %d compile attempts, got %d", MaxRetries, compiler.calls)
	}
	if final.RetryCount != MaxRetries {
		t.Errorf("retry count %d, want %d", final.RetryCount, MaxRetries)
	}
	if final.QualityScore >= QualityThreshold {
		t.Errorf("weak article must fail the gate, got %v", final.QualityScore)
	}
	if final.Err == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestRun_NilArticleScoresZero(t *testing.T) {
	classifier := &stubClassifier{label: types.ClassGuide}
	evaluator := &stubEvaluator{}
	compiler := &stubCompiler{article: nil}
	rt, _ := newRuntime(classifier, evaluator, compiler)

	final, err := rt.Run(context.Background(), State{ThreadID: "t1", Messages: batchMessages(2)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.QualityScore != 0 || final.Article != nil {
		t.Errorf("nil article should score 0: %+v", final)
	}
	if final.RetryCount != MaxRetries {
		t.Errorf("nil articles still consume retries, got %d", final.RetryCount)
	}
}

func TestRun_PreThreadedSkipsDisentangle(t *testing.T) {
	classifier := &stubClassifier{label: types.ClassQuestionAnswer}
	evaluator := &stubEvaluator{eval: types.Evaluation{HasSolution: true}}
	compiler := &stubCompiler{article: strongArticle(types.ClassQuestionAnswer)}
	rt, _ := newRuntime(classifier, evaluator, compiler)

	msgs := batchMessages(5)
	final, err := rt.Run(context.Background(), State{
		ThreadID:        "t1",
		Source:          types.SourceGitHub,
		SkipDisentangle: true,
		Messages:        msgs,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(final.Threads) != 1 || len(final.Threads[0]) != 5 {
		t.Fatalf("pre-threaded batch must stay one thread: %v", final.Threads)
	}
	for i, m := range final.Threads[0] {
		if m.ID != msgs[i].ID {
			t.Errorf("order changed at %d", i)
		}
	}
}

func TestRun_SingletonsCollapseIntoCatchAll(t *testing.T) {
	msgs := batchMessages(4)
	disentangler := &stubDisentangler{threads: []types.Thread{
		{msgs[2]},
		{msgs[0], msgs[1]},
		{msgs[3]},
	}}
	classifier := &stubClassifier{label: types.ClassNoise}
	rt, _ := newRuntime(classifier, &stubEvaluator{}, &stubCompiler{})
	rt.Disentangler = disentangler

	final, err := rt.Run(context.Background(), State{ThreadID: "t1", Messages: msgs})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(final.Threads) != 2 {
		t.Fatalf("expected pair thread plus catch-all, got %d", len(final.Threads))
	}
	if len(final.Threads[0]) != 2 {
		t.Error("largest thread must come first")
	}
	catchAll := final.Threads[1]
	if len(catchAll) != 2 || catchAll[0].Timestamp.After(catchAll[1].Timestamp) {
		t.Errorf("catch-all wrong: %v", catchAll)
	}
}

func TestRun_NodeErrorLeavesCheckpointUntouched(t *testing.T) {
	classifier := &stubClassifier{label: types.ClassQuestionAnswer}
	evaluator := &stubEvaluator{}
	rt, checkpoints := newRuntime(classifier, evaluator, &stubCompiler{})
	ctx := context.Background()

	// First run suspends and checkpoints 3 messages.
	if _, err := rt.Run(ctx, State{ThreadID: "t1", Messages: batchMessages(3)}); err != nil {
		t.Fatalf("setup run failed: %v", err)
	}

	classifier.err = errors.New("provider down")
	if _, err := rt.Run(ctx, State{ThreadID: "t1", Messages: batchMessages(5)[3:]}); err == nil {
		t.Fatal("expected node error to propagate")
	}

	prior, ok, _ := checkpoints.Load(ctx, "t1")
	if !ok || len(prior.Messages) != 3 {
		t.Errorf("checkpoint must be untouched after node error, got %+v", prior)
	}
}

func TestMerge_AppendsAndDedupes(t *testing.T) {
	prior := State{
		ThreadID:       "t1",
		Messages:       batchMessages(3),
		Classification: types.ClassQuestionAnswer,
		Suspended:      true,
	}
	incoming := State{
		ThreadID: "t1",
		Messages: append(batchMessages(3)[2:], batchMessages(5)[3:]...),
	}

	merged := Merge(prior, incoming)
	if len(merged.Messages) != 5 {
		t.Errorf("expected 5 deduped messages, got %d", len(merged.Messages))
	}
	if merged.Suspended {
		t.Error("merge must clear suspension")
	}
	if merged.Classification != "" {
		t.Error("derived fields are recomputed, not inherited")
	}
	// Prior order preserved.
	if merged.Messages[0].ID != "ma" || merged.Messages[4].ID != "me" {
		t.Errorf("order wrong: %v", merged.Messages)
	}
}

func TestThreadID_Stable(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := ThreadID(types.SourceDiscord, "chan-9", at)
	b := ThreadID(types.SourceDiscord, "chan-9", at)
	if a != b {
		t.Error("thread id must be deterministic")
	}
	if !strings.Contains(a, "discord") || !strings.Contains(a, "chan-9") {
		t.Errorf("thread id should embed source and channel: %s", a)
	}
	if c := ThreadID(types.SourceDiscord, "chan-9", at.Add(time.Hour)); c == a {
		t.Error("different batch times must differ")
	}
}
