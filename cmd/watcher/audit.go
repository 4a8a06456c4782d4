package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriphim/watcher/internal/export"
	"github.com/oriphim/watcher/internal/storage"
)

func newAuditCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the compliance ledger",
	}
	cmd.PersistentFlags().StringVar(&agentID, "agent", "", "only entries for this agent")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print ledger entries as JSON, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			events, err := store.ListAuditEvents(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}

	var (
		out   string
		title string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Render the ledger as a PDF report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditExport(cmd.Context(), cmd.ErrOrStderr(), agentID, title, out)
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "watcher-audit.pdf", "output file")
	exportCmd.Flags().StringVar(&title, "title", export.DefaultTitle, "report title")

	cmd.AddCommand(list, exportCmd)
	return cmd
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
}

func runAuditExport(ctx context.Context, stderr io.Writer, agentID, title, out string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListAuditEvents(ctx, agentID)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := export.AuditPDF(f, title, events, time.Now()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "wrote %d audit events to %s\n", len(events), out)
	return nil
}
