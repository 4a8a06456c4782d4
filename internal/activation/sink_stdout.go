package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/config"
)

// StdoutSink writes one JSON line per event to a writer, stdout by default.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{w: w}
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (s *StdoutSink) Close(context.Context) error { return nil }

// NewFromConfig builds the configured sinks and starts an emitter over them.
// It returns nil when no sink is configured.
func NewFromConfig(cfg config.ActivationConfig, logger *zap.Logger) (*Emitter, error) {
	if len(cfg.Sinks) == 0 {
		return nil, nil
	}
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for i, sc := range cfg.Sinks {
		var (
			sink Sink
			err  error
		)
		switch strings.ToLower(strings.TrimSpace(sc.Type)) {
		case "stdout":
			sink = NewStdoutSink(nil)
		case "file_jsonl":
			sink, err = NewFileSink(sc.Path)
		case "webhook":
			sink, err = NewWebhookSink(sc.URL, sc.Headers, sc.Timeout)
		default:
			err = fmt.Errorf("unknown type %q", sc.Type)
		}
		if err != nil {
			for _, s := range sinks {
				_ = s.Close(context.Background())
			}
			return nil, fmt.Errorf("activation sink %d: %w", i, err)
		}
		sinks = append(sinks, sink)
	}
	return NewEmitter(EmitterConfig{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		Logger:    logger,
	}, sinks), nil
}
