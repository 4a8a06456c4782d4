package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/activation"
)

const maxEventBytes = 1 << 20

func main() {
	addr := flag.String("addr", ":8099", "listen address for verdict receiver")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	mux := http.NewServeMux()
	mux.Handle("/", newHandler(logger))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("verdict receiver listening (POST JSON events to /events)", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("receiver error", zap.Error(err))
	}
}

func newHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		var ev activation.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			logger.Warn("undecodable event", zap.String("path", r.URL.Path), zap.Int("len", len(body)), zap.Error(err))
			http.Error(w, "invalid event", http.StatusBadRequest)
			return
		}

		logger.Info("received verdict event",
			zap.String("request_id", ev.RequestID),
			zap.String("agent_id", ev.Meta.AgentID),
			zap.String("action", ev.Summary.Action),
			zap.Int("status_code", ev.Summary.StatusCode),
			zap.Strings("violations", ev.Summary.Violations),
			zap.Float64("divergence", ev.Scores.Divergence),
			zap.Bool("degraded", ev.Summary.Degraded))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
	}
}
