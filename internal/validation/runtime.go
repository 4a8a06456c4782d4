package validation

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/activation"
	"github.com/oriphim/watcher/internal/config"
	"github.com/oriphim/watcher/internal/divergence"
	"github.com/oriphim/watcher/internal/drift"
	"github.com/oriphim/watcher/internal/embedding"
	"github.com/oriphim/watcher/internal/logging"
	"github.com/oriphim/watcher/internal/policy"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/telemetry"
)

// Runtime owns an Engine together with the resources it was built from.
type Runtime struct {
	Engine  *Engine
	Store   storage.Store
	Emitter *activation.Emitter

	embedder io.Closer
}

// Build wires an Engine from configuration. Close releases everything it opened.
func Build(cfg *config.Config, tel *telemetry.Provider, logger *zap.Logger) (*Runtime, error) {
	logger = logging.OrNop(logger)

	est, closer, err := NewEstimator(cfg.Divergence)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		closeQuietly(closer)
		return nil, fmt.Errorf("open storage: %w", err)
	}

	emitter, err := activation.NewFromConfig(cfg.Activation, logger)
	if err != nil {
		closeQuietly(closer)
		_ = store.Close()
		return nil, err
	}

	eng, err := New(Options{
		Estimator: est,
		Store:     store,
		History: drift.NewHistory(drift.Options{
			Capacity:   cfg.Drift.Window,
			MinSamples: cfg.Drift.MinSamples,
			Threshold:  cfg.Drift.ZThreshold,
		}),
		Thresholds: policy.Thresholds{
			LatencyGuard:        cfg.Policy.LatencyGuard,
			DivergenceThreshold: cfg.Policy.DivergenceThreshold,
			BlockSeverity:       cfg.Policy.BlockSeverity,
		},
		Emitter:         emitter,
		ActivationLevel: cfg.Logging.ActivationLevel,
		Telemetry:       tel,
		Logger:          logger,
	})
	if err != nil {
		closeQuietly(closer)
		_ = store.Close()
		return nil, err
	}

	logger.Info("validation engine ready",
		zap.String("strategy", est.Name()),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("activation", emitter != nil))

	return &Runtime{Engine: eng, Store: store, Emitter: emitter, embedder: closer}, nil
}

// NewEstimator builds the divergence estimator for cfg.Strategy. The returned
// closer is nil unless a local model was loaded.
func NewEstimator(cfg config.DivergenceConfig) (divergence.Estimator, io.Closer, error) {
	var (
		emb    embedding.Embedder
		closer io.Closer
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case divergence.StrategyONNX:
		onnx, err := embedding.LoadONNX(onnxConfig(cfg.ONNX))
		if err != nil {
			return nil, nil, fmt.Errorf("load onnx embedder: %w", err)
		}
		emb, closer = onnx, onnx
	case divergence.StrategyOpenAI:
		oa, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.ResolvedAPIKey(),
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		emb = oa
	}

	est, err := divergence.New(cfg.Strategy, emb)
	if err != nil {
		closeQuietly(closer)
		return nil, nil, err
	}
	return est, closer, nil
}

func onnxConfig(c config.ONNXConfig) embedding.ONNXConfig {
	return embedding.ONNXConfig{
		ModelDir:     c.ModelDir,
		ModelFile:    c.ModelFile,
		SeqLen:       c.SeqLen,
		HiddenSize:   c.HiddenSize,
		TokenTypeIDs: c.FeedTokenTypeIDs(),
		OutputName:   c.OutputName,
	}
}

// Close drains the activation emitter, then closes storage and the embedder.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if r.Emitter != nil {
		r.Emitter.Close(ctx)
	}
	closeQuietly(r.embedder)
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
