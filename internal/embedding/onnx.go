package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig describes a sentence-encoder export on disk.
type ONNXConfig struct {
	ModelDir     string
	ModelFile    string // defaults to model.onnx
	SeqLen       int
	HiddenSize   int
	TokenTypeIDs bool // feed a zero token_type_ids input
	OutputName   string
}

// ONNXEmbedder runs a MiniLM-style encoder locally and mean-pools its last hidden state.
type ONNXEmbedder struct {
	session   *ort.AdvancedSession
	tokenizer *WordPieceTokenizer
	seqLen    int
	hidden    int
	modelPath string

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypes    *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// LoadONNX initializes onnxruntime, the tokenizer and a reusable session.
func LoadONNX(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelDir == "" {
		return nil, errors.New("model dir is empty")
	}
	if cfg.SeqLen <= 0 {
		cfg.SeqLen = 128
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = 384
	}
	if cfg.ModelFile == "" {
		cfg.ModelFile = "model.onnx"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "last_hidden_state"
	}

	modelPath := filepath.Join(cfg.ModelDir, cfg.ModelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	tokenizer, err := LoadTokenizerFromDir(cfg.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	libPath := resolveSharedLibraryPath(cfg.ModelDir)
	if libPath == "" {
		return nil, fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	inputShape := ort.NewShape(1, int64(cfg.SeqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.SeqLen), int64(cfg.HiddenSize)))
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask"}
	inputs := []ort.Value{inputIDs, attnMask}
	var tokenTypes *ort.Tensor[int64]
	if cfg.TokenTypeIDs {
		tokenTypes, err = ort.NewEmptyTensor[int64](inputShape)
		if err != nil {
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
		inputNames = append(inputNames, "token_type_ids")
		inputs = append(inputs, tokenTypes)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		inputNames,
		[]string{cfg.OutputName},
		inputs,
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXEmbedder{
		session:       session,
		tokenizer:     tokenizer,
		seqLen:        cfg.SeqLen,
		hidden:        cfg.HiddenSize,
		modelPath:     modelPath,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		tokenTypes:    tokenTypes,
		output:        output,
	}, nil
}

func (e *ONNXEmbedder) Name() string { return "onnx:" + filepath.Base(e.modelPath) }

// Embed encodes texts one at a time through the shared session.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e == nil || e.session == nil {
		return nil, errors.New("onnx embedder not initialized")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, attn := e.tokenizer.Encode(text, e.seqLen)
		copy(e.inputIDs.GetData(), ids)
		copy(e.attentionMask.GetData(), attn)

		if err := e.session.Run(); err != nil {
			return nil, fmt.Errorf("onnx run: %w", err)
		}

		vec := meanPool(e.output.GetData(), attn, e.hidden)
		out = append(out, Normalize(vec))
	}
	return out, nil
}

// Close releases the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
	}
	for _, t := range []interface{ Destroy() error }{e.inputIDs, e.attentionMask, e.output} {
		errs = append(errs, t.Destroy())
	}
	if e.tokenTypes != nil {
		errs = append(errs, e.tokenTypes.Destroy())
	}
	e.session = nil
	return errors.Join(errs...)
}

// resolveSharedLibraryPath locates a platform onnxruntime library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins over probing.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
