// Package embedding provides vector embedding generation for the
// disentanglement engine and article search.
package embedding

import (
	"context"
	"fmt"
	"math"

	"threadloom/internal/logging"
)

// Dimensions of the embedding space. The model identity is a build-time
// constant; every persisted vector has this dimension.
const Dimensions = 384

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for embedding engines that support
// health checks. If an engine implements this interface, the system can
// verify availability before attempting batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	Endpoint string `yaml:"endpoint"` // Default: "http://localhost:11434"
	Model    string `yaml:"model"`    // Default: "all-minilm"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint: "http://localhost:11434",
		Model:    "all-minilm",
	}
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	engine, err := NewOllamaEngine(cfg.Endpoint, cfg.Model)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Get(logging.CategoryEmbedding).Info("Embedding engine created: name=%s, dimensions=%d",
		engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// COSINE SIMILARITY UTILITIES
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}

	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// SimilarityMatrix computes the pairwise cosine similarity matrix for a set
// of vectors. The matrix is symmetric with 1.0 on the diagonal.
func SimilarityMatrix(vectors [][]float32) [][]float64 {
	n := len(vectors)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1.0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim, err := CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				sim = 0
			}
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix
}

// IdentityMatrix returns an n×n similarity matrix with 1.0 on the diagonal
// and 0 elsewhere. Used as the degraded fallback when no embeddings are
// available: every message becomes its own singleton unless explicit edges
// link it.
func IdentityMatrix(n int) [][]float64 {
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1.0
	}
	return matrix
}
