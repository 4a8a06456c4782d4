package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriphim/watcher/internal/activation"
	"github.com/oriphim/watcher/internal/policy"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/validation"
	"github.com/oriphim/watcher/internal/verdict"
)

// Exit codes of the one-shot validator.
const (
	exitBlocked = 2
	exitInvalid = 3
)

func newValidateCmd() *cobra.Command {
	var (
		file      string
		ephemeral bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate one request and print its verdict",
		Long: `Reads a request JSON document from --file (or stdin with "-"), runs it
through the full pipeline and prints the verdict. The process exits with
status 2 when the verdict is BLOCK and 3 when the request is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), file, ephemeral)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file, - for stdin")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep results in memory instead of the configured store")
	return cmd
}

func runValidate(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, file string, ephemeral bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ephemeral {
		cfg.Storage.Driver = storage.DriverMemory
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	req, err := readRequest(stdin, file, cfg.Server.MaxRequestBodySize)
	if errors.Is(err, errMalformedRequest) {
		fmt.Fprintln(stderr, err)
		return exitError{code: exitInvalid}
	}
	if err != nil {
		return err
	}

	rt, err := validation.Build(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	v, err := rt.Engine.Evaluate(ctx, "", req, validation.WithMode(activation.ModeCLI))
	var se *validation.StorageError
	switch {
	case err == nil:
	case errors.As(err, &se) && v != nil:
		fmt.Fprintln(stderr, "warning:", se.Error())
	case validation.IsInput(err):
		fmt.Fprintln(stderr, err)
		return exitError{code: exitInvalid}
	default:
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if v.Action == policy.ActionBlock {
		return exitError{code: exitBlocked}
	}
	return nil
}

var errMalformedRequest = errors.New("malformed request")

// readRequest decodes one request document. Decode failures wrap
// errMalformedRequest; I/O failures on the file itself do not.
func readRequest(stdin io.Reader, file string, limit int64) (verdict.Request, error) {
	var req verdict.Request
	r := stdin
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return req, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(io.LimitReader(r, limit)).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	return req, nil
}
