// Package divergence scores how much three candidate responses to the same
// prompt disagree with each other. Scores are in [0,1].
package divergence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oriphim/watcher/internal/embedding"
)

// CandidateCount is the only candidate set size divergence is defined for.
const CandidateCount = 3

const (
	StrategyLexical = "lexical"
	StrategyONNX    = "onnx"
	StrategyOpenAI  = "openai"
)

var (
	ErrCandidateCount = fmt.Errorf("divergence requires exactly %d candidates", CandidateCount)
	ErrNoEmbedder     = errors.New("embedding strategy requires an embedder")
)

// Estimator scores disagreement across a candidate set.
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, candidates []string) (float64, error)
}

// New returns the estimator for strategy. Embedding strategies need emb.
func New(strategy string, emb embedding.Embedder) (Estimator, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyLexical:
		return Lexical{}, nil
	case StrategyONNX, StrategyOpenAI:
		if emb == nil {
			return nil, ErrNoEmbedder
		}
		return NewEmbedding(emb), nil
	default:
		return nil, fmt.Errorf("unknown divergence strategy %q", strategy)
	}
}

// degenerate resolves the blank-candidate edge cases shared by every strategy.
// ok is false when the full algorithm has to run.
func degenerate(candidates []string) (score float64, ok bool) {
	blank := 0
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			blank++
		}
	}
	switch {
	case blank == len(candidates):
		return 0, true
	case blank > 0:
		return 1, true
	default:
		return 0, false
	}
}

func checkCount(candidates []string) error {
	if len(candidates) != CandidateCount {
		return fmt.Errorf("%w: got %d", ErrCandidateCount, len(candidates))
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// pairs enumerates the three unordered index pairs of a candidate set.
var pairs = [3][2]int{{0, 1}, {0, 2}, {1, 2}}
