package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriphim/watcher/internal/config"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/verdict"
)

func TestBuildFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = storage.DriverMemory

	rt, err := Build(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	assert.Equal(t, "lexical", rt.Engine.Strategy())
	assert.Nil(t, rt.Emitter)

	v, err := rt.Engine.Evaluate(context.Background(), "rt-1", verdict.Request{Samples: same})
	require.NoError(t, err)
	stored, err := rt.Store.GetVerdict(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, v.Action, stored.Action)
}

func TestNewEstimatorErrors(t *testing.T) {
	_, _, err := NewEstimator(config.DivergenceConfig{Strategy: "telepathy"})
	assert.Error(t, err)

	_, _, err = NewEstimator(config.DivergenceConfig{Strategy: "onnx"})
	assert.Error(t, err)

	_, _, err = NewEstimator(config.DivergenceConfig{Strategy: "openai"})
	assert.Error(t, err)
}

func TestNewEstimatorOpenAI(t *testing.T) {
	est, closer, err := NewEstimator(config.DivergenceConfig{
		Strategy: "openai",
		OpenAI:   config.OpenAIConfig{BaseURL: "http://127.0.0.1:1/v1", Model: "m"},
	})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, "embedding:openai:m", est.Name())
}

func TestRuntimeCloseNil(t *testing.T) {
	var rt *Runtime
	assert.NoError(t, rt.Close(context.Background()))
}

func TestONNXConfigPassesModelInputs(t *testing.T) {
	cfg := config.Default()
	got := onnxConfig(cfg.Divergence.ONNX)
	assert.True(t, got.TokenTypeIDs)
	assert.Equal(t, "last_hidden_state", got.OutputName)
	assert.Equal(t, 128, got.SeqLen)
	assert.Equal(t, 384, got.HiddenSize)

	off := false
	got = onnxConfig(config.ONNXConfig{ModelDir: "m", TokenTypeIDs: &off, OutputName: "pooled"})
	assert.False(t, got.TokenTypeIDs)
	assert.Equal(t, "pooled", got.OutputName)
	assert.Equal(t, "m", got.ModelDir)
}
