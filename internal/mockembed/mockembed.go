// Package mockembed serves a deterministic OpenAI-compatible embeddings API for
// tests, benchmarks and local development.
package mockembed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

const (
	defaultPort    = 18081
	defaultDelayMS = 0
	defaultDim     = 64

	// FailMarker makes the server answer 500 for any batch containing it.
	FailMarker = "__mock_embed_error__"
)

// Options tunes the mock server.
type Options struct {
	Delay  time.Duration
	Dim    int
	Logger *zap.Logger
}

// Start launches the mock server. If addr is empty it listens on
// 127.0.0.1:MOCK_EMBED_PORT (default 18081). MOCK_DELAY_MS overrides a zero Delay.
// It returns a shutdown function and the base URL (e.g. http://127.0.0.1:18081/v1).
func Start(addr string, opts Options) (func(context.Context) error, string, error) {
	if strings.TrimSpace(addr) == "" {
		port := strings.TrimSpace(os.Getenv("MOCK_EMBED_PORT"))
		if port == "" {
			port = fmt.Sprintf("%d", defaultPort)
		}
		addr = "127.0.0.1:" + port
	}
	if opts.Delay == 0 {
		delay := defaultDelayMS
		if val := strings.TrimSpace(os.Getenv("MOCK_DELAY_MS")); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
				delay = parsed
			}
		}
		opts.Delay = time.Duration(delay) * time.Millisecond
	}
	if opts.Dim <= 0 {
		opts.Dim = defaultDim
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(opts.Dim, opts.Delay, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock embeddings server error", zap.Error(err))
		}
	}()

	baseURL := "http://" + ln.Addr().String() + "/v1"
	logger.Info("mock embeddings listening", zap.String("base_url", baseURL), zap.Duration("delay", opts.Delay))
	return srv.Shutdown, baseURL, nil
}

// Handler returns the HTTP handler without binding a listener.
func Handler(dim int, delay time.Duration, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("mock embeddings request", zap.String("method", r.Method), zap.String("path", r.URL.Path))

		p := r.URL.Path
		if len(p) > 1 {
			p = strings.TrimSuffix(p, "/")
		}

		if r.Method == http.MethodPost && (p == "/v1/embeddings" || p == "/embeddings") {
			handleEmbeddings(w, r, dim, delay)
			return
		}
		if r.Method == http.MethodGet && (p == "/v1/models" || p == "/models") {
			writeModels(w)
			return
		}
		writeError(w, http.StatusNotFound, "Not found")
	})
	return mux
}

type embeddingsRequest struct {
	Input json.RawMessage `json:"input"`
	Model string          `json:"model"`
}

func handleEmbeddings(w http.ResponseWriter, r *http.Request, dim int, delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}

	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	inputs, err := decodeInput(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data := make([]map[string]any, 0, len(inputs))
	for i, text := range inputs {
		if strings.Contains(text, FailMarker) {
			writeError(w, http.StatusInternalServerError, "mock embedding failure")
			return
		}
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": Vector(text, dim),
		})
	}

	model := req.Model
	if model == "" {
		model = "mock-embed"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  model,
		"usage": map[string]int{
			"prompt_tokens": len(inputs),
			"total_tokens":  len(inputs),
		},
	})
}

func decodeInput(raw json.RawMessage) ([]string, error) {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	return nil, errors.New("input must be a string or array of strings")
}

// Vector hashes the bag of lowercase words of text into a dim-sized count vector.
// Equal texts give equal vectors; texts sharing no words are orthogonal unless
// their words collide.
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32()%uint32(dim))]++
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "invalid_request_error",
		},
	})
}

func writeModels(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       "mock-embed",
				"object":   "model",
				"owned_by": "mock",
			},
		},
	})
}
