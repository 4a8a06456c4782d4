package embedding

import (
	"context"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriphim/watcher/internal/mockembed"
)

func writeVocab(t *testing.T, dir string, tokens ...string) string {
	t.Helper()
	path := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(tokens, "\n")+"\n"), 0o644))
	return path
}

func TestWordPieceEncode(t *testing.T) {
	dir := t.TempDir()
	path := writeVocab(t, dir, "[PAD]", "[UNK]", "[CLS]", "[SEP]", "the", "energy", "conserv", "##ation", ",")

	tok, err := LoadWordPieceTokenizer(path)
	require.NoError(t, err)

	ids, mask := tok.Encode("The energy, conservation zzz", 10)
	assert.Equal(t, []int64{2, 4, 5, 8, 6, 7, 1, 3, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 1, 1, 1, 0, 0}, mask)
}

func TestWordPieceEncodeTruncates(t *testing.T) {
	dir := t.TempDir()
	path := writeVocab(t, dir, "[PAD]", "[UNK]", "[CLS]", "[SEP]", "a")

	tok, err := LoadWordPieceTokenizer(path)
	require.NoError(t, err)

	ids, mask := tok.Encode(strings.Repeat("a ", 20), 5)
	assert.Equal(t, []int64{2, 4, 4, 4, 3}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, mask)
}

func TestLoadTokenizerFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tokenizer"), 0o755))
	writeVocab(t, filepath.Join(dir, "tokenizer"), "[PAD]", "[UNK]", "[CLS]", "[SEP]")

	_, err := LoadTokenizerFromDir(dir)
	require.NoError(t, err)

	_, err = LoadTokenizerFromDir(t.TempDir())
	require.Error(t, err)
}

func TestNormalizeAndCosine(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)

	c, err := Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, c, 1e-9)

	c, err = Cosine([]float32{1, 1}, []float32{-1, -1})
	require.NoError(t, err)
	assert.InDelta(t, -1, c, 1e-9)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	require.ErrorIs(t, err, ErrDimensionChange)

	_, err = Cosine(nil, []float32{1})
	require.ErrorIs(t, err, ErrEmptyVector)
}

func TestMeanPoolIgnoresPadding(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	assert.Equal(t, []float32{2, 3}, got)
	assert.False(t, math.IsNaN(float64(meanPool(hidden, []int64{0, 0, 0}, 2)[0])))
}

func TestLoadONNXMissingModel(t *testing.T) {
	_, err := LoadONNX(ONNXConfig{ModelDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file missing")

	_, err = LoadONNX(ONNXConfig{})
	require.Error(t, err)
}

func TestOpenAIEmbedderAgainstMock(t *testing.T) {
	srv := httptest.NewServer(mockembed.Handler(32, 0, nil))
	defer srv.Close()

	emb, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "mock-embed"})
	require.NoError(t, err)
	assert.Equal(t, "openai:mock-embed", emb.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	vecs, err := emb.Embed(ctx, []string{"stock prices fell", "stock prices fell", "quantum entanglement"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		require.Len(t, v, 32)
	}

	same, err := Cosine(vecs[0], vecs[1])
	require.NoError(t, err)
	assert.InDelta(t, 1, same, 1e-6)
}

func TestOpenAIEmbedderSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(mockembed.Handler(8, 0, nil))
	defer srv.Close()

	emb, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "mock-embed"})
	require.NoError(t, err)

	_, err = emb.Embed(context.Background(), []string{"a", mockembed.FailMarker, "c"})
	require.Error(t, err)
}

func TestNewOpenAIRequiresModel(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{BaseURL: "http://localhost"})
	require.Error(t, err)
}
