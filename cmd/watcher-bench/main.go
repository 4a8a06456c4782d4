package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/oriphim/watcher/internal/config"
	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/divergence"
	"github.com/oriphim/watcher/internal/mockembed"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/validation"
	"github.com/oriphim/watcher/internal/verdict"
)

func main() {
	cfgPath := flag.String("config", "watcher.yaml", "path to config yaml")
	n := flag.Int("n", 200, "number of iterations")
	strategy := flag.String("strategy", "", "divergence strategy (overrides config)")
	mock := flag.Bool("mock-embed", false, "serve embeddings from a local mock and use the openai strategy")
	pipeline := flag.Bool("pipeline", false, "time the full validation pipeline instead of the estimator alone")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *strategy != "" {
		cfg.Divergence.Strategy = *strategy
	}

	ctx := context.Background()
	if *mock {
		shutdown, baseURL, err := mockembed.Start("127.0.0.1:0", mockembed.Options{})
		if err != nil {
			log.Fatalf("start mock embeddings: %v", err)
		}
		defer func() { _ = shutdown(ctx) }()
		cfg.Divergence.Strategy = divergence.StrategyOpenAI
		cfg.Divergence.OpenAI.BaseURL = baseURL
		cfg.Divergence.OpenAI.APIKey = "mock"
	}

	samples := []string{
		"Transfer 500 EUR to the savings account today.",
		"Move 500 euros into savings right now.",
		"Buy 500 EUR of index funds with the checking balance.",
	}

	var run func() error
	name := cfg.Divergence.Strategy
	if *pipeline {
		cfg.Storage.Driver = storage.DriverMemory
		cfg.Activation.Sinks = nil
		rt, err := validation.Build(cfg, nil, nil)
		if err != nil {
			log.Fatalf("build engine: %v", err)
		}
		defer func() { _ = rt.Close(ctx) }()
		name = rt.Engine.Strategy()
		req := verdict.Request{
			Samples: samples,
			Payload: constraint.Payload{Financial: &constraint.FinancialPayload{ProposedLoss: -2500}},
		}
		run = func() error {
			_, err := rt.Engine.Evaluate(ctx, "", req)
			return err
		}
	} else {
		est, closer, err := validation.NewEstimator(cfg.Divergence)
		if err != nil {
			log.Fatalf("build estimator: %v", err)
		}
		if closer != nil {
			defer closer.Close()
		}
		name = est.Name()
		run = func() error {
			_, err := est.Estimate(ctx, samples)
			return err
		}
	}

	// Warmup
	for i := 0; i < 5; i++ {
		if err := run(); err != nil {
			log.Fatalf("warmup failed: %v", err)
		}
	}

	if *n <= 0 {
		*n = 1
	}

	durations := make([]time.Duration, 0, *n)
	for i := 0; i < *n; i++ {
		start := time.Now()
		if err := run(); err != nil {
			log.Fatalf("run failed: %v", err)
		}
		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	avg := float64(total.Microseconds()) / 1000.0 / float64(len(durations))
	p50 := float64(durations[len(durations)/2].Microseconds()) / 1000.0
	p95 := float64(durations[int(float64(len(durations))*0.95)].Microseconds()) / 1000.0

	fmt.Printf("bench: n=%d avg_ms=%.2f p50_ms=%.2f p95_ms=%.2f strategy=%s pipeline=%t\n",
		len(durations),
		avg,
		p50,
		p95,
		name,
		*pipeline,
	)
}
