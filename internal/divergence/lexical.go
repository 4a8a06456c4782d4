package divergence

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Lexical scores divergence as the mean pairwise Jensen-Shannon divergence
// (base 2) of the candidates' word frequency distributions.
type Lexical struct{}

func (Lexical) Name() string { return StrategyLexical }

func (Lexical) Estimate(_ context.Context, candidates []string) (float64, error) {
	if err := checkCount(candidates); err != nil {
		return 0, err
	}
	if score, ok := degenerate(candidates); ok {
		return score, nil
	}

	tokenized := make([][]string, len(candidates))
	vocab := make(map[string]int)
	for i, c := range candidates {
		tokenized[i] = tokenize(c)
		for _, tok := range tokenized[i] {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	dists := make([][]float64, len(candidates))
	for i, toks := range tokenized {
		dists[i] = distribution(toks, vocab)
	}

	var sum float64
	for _, p := range pairs {
		sum += jensenShannon(dists[p[0]], dists[p[1]])
	}
	return clamp01(sum / float64(len(pairs))), nil
}

// tokenize returns case-folded alphanumeric runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// distribution returns relative token frequencies over vocab. A candidate with
// no tokens yields the zero vector.
func distribution(tokens []string, vocab map[string]int) []float64 {
	out := make([]float64, len(vocab))
	if len(tokens) == 0 {
		return out
	}
	for _, t := range tokens {
		out[vocab[t]]++
	}
	n := float64(len(tokens))
	for i := range out {
		out[i] /= n
	}
	return out
}

func jensenShannon(p, q []float64) float64 {
	m := make([]float64, len(p))
	for i := range p {
		m[i] = 0.5 * (p[i] + q[i])
	}
	return 0.5*klDivergence(p, m) + 0.5*klDivergence(q, m)
}

// klDivergence skips entries where p is zero.
func klDivergence(p, q []float64) float64 {
	var d float64
	for i := range p {
		if p[i] == 0 {
			continue
		}
		d += p[i] * math.Log2(p[i]/q[i])
	}
	return d
}
