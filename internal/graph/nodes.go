package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"threadloom/internal/llm"
	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// =============================================================================
// NODE INTERFACES
// =============================================================================

// Classifier decides what kind of conversation a thread is.
type Classifier interface {
	Classify(ctx context.Context, thread types.Thread) (types.Classification, error)
}

// Evaluator judges whether a thread carries enough substance to compile.
type Evaluator interface {
	Evaluate(ctx context.Context, thread types.Thread) (types.Evaluation, error)
}

// Compiler extracts a structured article from a thread. A nil article with a
// nil error means the attempt produced nothing usable; the gate scores it
// zero and routing decides whether to retry.
type Compiler interface {
	Compile(ctx context.Context, thread types.Thread, eval types.Evaluation, retryFeedback string) (*types.CompiledArticle, error)
}

// =============================================================================
// LLM-BACKED NODES
// =============================================================================

const classifierSystem = `You classify developer community conversations.
Reply with exactly one label and nothing else:
NOISE - greetings, small talk, off-topic chatter with no technical content
TROUBLESHOOTING - a specific problem being diagnosed and fixed
QUESTION_ANSWER - a question that received a usable answer
GUIDE - a walkthrough, how-to, or set of recommendations
DISCUSSION_SUMMARY - a substantive technical discussion without a single answer`

const evaluatorSystem = `You evaluate whether a developer conversation contains extractable knowledge.
Reply with a single JSON object, no prose:
{"has_solution": bool, "has_code": bool, "is_resolved": bool, "reasoning": "one sentence"}`

const compilerSystem = `You compile a developer conversation into a knowledge base article.
Reply with a single JSON object matching this schema, no prose:
{
  "article_type": string,
  "symptom": "what the user experienced",
  "diagnosis": "the root cause",
  "solution": "how it was fixed, with concrete steps",
  "code_snippet": "relevant code or empty string",
  "language": "programming language or general",
  "framework": "framework or empty string",
  "tags": ["3-7 lowercase-kebab tags"],
  "confidence": number between 0 and 1,
  "thread_summary": "one line under 100 characters"
}`

// LLMClassifier routes threads via a completion call.
type LLMClassifier struct {
	Client llm.Client
}

// Classify asks for a single label. Responses that cannot be mapped to
// exactly one known label fall back to QUESTION_ANSWER, the broadest useful
// category. Only NOISE terminates the graph, so the fallback keeps ambiguous
// threads flowing toward extraction.
func (c *LLMClassifier) Classify(ctx context.Context, thread types.Thread) (types.Classification, error) {
	out, err := c.Client.Complete(ctx, llm.Request{
		System:    classifierSystem,
		Prompt:    renderThread(thread),
		MaxTokens: 16,
		Timeout:   llm.ClassifyTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return mapLabel(out), nil
}

// mapLabel extracts exactly one known label from the response text.
func mapLabel(out string) types.Classification {
	upper := strings.ToUpper(out)
	var found types.Classification
	matches := 0
	for _, label := range []types.Classification{
		types.ClassNoise,
		types.ClassTroubleshooting,
		types.ClassQuestionAnswer,
		types.ClassGuide,
		types.ClassDiscussionSummary,
	} {
		if strings.Contains(upper, string(label)) {
			found = label
			matches++
		}
	}
	if matches != 1 {
		return types.ClassQuestionAnswer
	}
	return found
}

// LLMEvaluator produces the structured evaluation record.
type LLMEvaluator struct {
	Client llm.Client
}

// Evaluate never fails on malformed output: any parse problem yields the
// all-false evaluation with the raw prefix as reasoning, preferring no
// article over a wrong one. Transport errors propagate.
func (e *LLMEvaluator) Evaluate(ctx context.Context, thread types.Thread) (types.Evaluation, error) {
	out, err := e.Client.Complete(ctx, llm.Request{
		System:    evaluatorSystem,
		Prompt:    renderThread(thread),
		MaxTokens: 256,
		Timeout:   llm.EvaluateTimeout,
	})
	if err != nil {
		return types.Evaluation{}, fmt.Errorf("evaluate: %w", err)
	}

	raw, err := llm.ExtractJSONObject(out)
	if err != nil {
		return allFalse(out), nil
	}
	var eval types.Evaluation
	if err := json.Unmarshal([]byte(raw), &eval); err != nil {
		return allFalse(out), nil
	}
	if eval.IsResolved {
		eval.HasSolution = true
	}
	return eval, nil
}

func allFalse(raw string) types.Evaluation {
	const maxReason = 200
	if len(raw) > maxReason {
		raw = raw[:maxReason]
	}
	logging.GraphDebug("evaluator output unparseable, defaulting to all-false")
	return types.Evaluation{Reasoning: "unparseable evaluator output: " + raw}
}

// LLMCompiler produces the structured article.
type LLMCompiler struct {
	Client llm.Client
}

// Compile returns nil (not an error) when the model output cannot be parsed
// or fails validation. Transport errors propagate.
func (c *LLMCompiler) Compile(ctx context.Context, thread types.Thread, eval types.Evaluation, retryFeedback string) (*types.CompiledArticle, error) {
	prompt := renderThread(thread)
	if eval.Reasoning != "" {
		prompt += "\n\nEvaluator notes: " + eval.Reasoning
	}
	if retryFeedback != "" {
		prompt += "\n\nThe previous attempt was rejected. Address these issues: " + retryFeedback
	}

	out, err := c.Client.Complete(ctx, llm.Request{
		System:    compilerSystem,
		Prompt:    prompt,
		MaxTokens: 2048,
		Timeout:   llm.CompileTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	raw, err := llm.ExtractJSONObject(out)
	if err != nil {
		logging.GraphDebug("compiler output has no JSON object")
		return nil, nil
	}
	var article types.CompiledArticle
	if err := json.Unmarshal([]byte(raw), &article); err != nil {
		logging.GraphDebug("compiler output unparseable: %v", err)
		return nil, nil
	}

	article.Tags = NormalizeTags(article.Tags)
	article.Normalize()
	if err := article.Validate(); err != nil {
		logging.GraphDebug("compiled article invalid: %v", err)
		return nil, nil
	}
	return &article, nil
}

// renderThread formats a thread for prompts: one line per message with a
// short author token so the model can track speakers without real handles.
func renderThread(thread types.Thread) string {
	var b strings.Builder
	for _, m := range thread {
		author := m.AuthorHash
		if len(author) > 8 {
			author = author[:8]
		}
		b.WriteString("[")
		b.WriteString(author)
		b.WriteString("]: ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// EVALUATOR GATE
// =============================================================================

// GatePasses applies the type-aware gate deciding whether an evaluated
// thread proceeds to compilation.
func GatePasses(articleType types.Classification, eval types.Evaluation) bool {
	switch articleType {
	case types.ClassGuide, types.ClassDiscussionSummary:
		return true
	case types.ClassQuestionAnswer:
		return eval.HasSolution
	case types.ClassTroubleshooting:
		return (eval.IsResolved && eval.HasCode) ||
			(eval.HasSolution && eval.HasCode) ||
			(eval.HasSolution && eval.IsResolved)
	}
	return false
}
