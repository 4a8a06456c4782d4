package divergence

import (
	"context"
	"fmt"

	"github.com/oriphim/watcher/internal/embedding"
)

// Embedding scores divergence from the mean pairwise cosine similarity of
// candidate embeddings: clamp((1 - mean)/2, 0, 1).
type Embedding struct {
	embedder embedding.Embedder
}

func NewEmbedding(emb embedding.Embedder) *Embedding {
	return &Embedding{embedder: emb}
}

func (e *Embedding) Name() string { return "embedding:" + e.embedder.Name() }

func (e *Embedding) Estimate(ctx context.Context, candidates []string) (float64, error) {
	if err := checkCount(candidates); err != nil {
		return 0, err
	}
	if score, ok := degenerate(candidates); ok {
		return score, nil
	}

	vecs, err := e.embedder.Embed(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("embed candidates: %w", err)
	}
	if len(vecs) != len(candidates) {
		return 0, fmt.Errorf("embed candidates: got %d vectors for %d candidates", len(vecs), len(candidates))
	}
	for _, v := range vecs {
		embedding.Normalize(v)
	}

	var sum float64
	for _, p := range pairs {
		c, err := embedding.Cosine(vecs[p[0]], vecs[p[1]])
		if err != nil {
			return 0, fmt.Errorf("compare candidates %d and %d: %w", p[0], p[1], err)
		}
		sum += c
	}
	mean := sum / float64(len(pairs))
	return clamp01((1 - mean) / 2), nil
}
