package activation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var errSinkClosed = errors.New("sink closed")

// FileSink appends one verdict event per line to a JSONL file. Every event is
// flushed before Deliver returns so a crash loses at most the in-flight line.
type FileSink struct {
	path string

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("file_jsonl sink needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	return &FileSink{path: path, file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.path }

func (s *FileSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errSinkClosed
	}

	// Encode appends the newline.
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event %s: %w", ev.RequestID, err)
	}
	return s.buf.Flush()
}

func (s *FileSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	return errors.Join(flushErr, closeErr)
}
