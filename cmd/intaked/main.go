package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duncanmillerza/hadada-intake/internal/app"
	"github.com/duncanmillerza/hadada-intake/internal/audit"
	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intaked",
		Short: "Intake form extraction service",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the extraction API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					logger.Error("close audit sink", "error", cerr)
				}
			}()

			handler := server.NewHandler(a.Processor, a.Registry, logger)
			return server.New(cfg.Server, handler, logger).Start(ctx)
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail tools",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit trail to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStr, _ := cmd.Flags().GetString("from")
			toStr, _ := cmd.Flags().GetString("to")
			out, _ := cmd.Flags().GetString("out")

			logger := newLogger()

			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}

			var from, to time.Time
			if fromStr != "" {
				if from, err = time.Parse("2006-01-02", fromStr); err != nil {
					return fmt.Errorf("invalid --from date %q, use YYYY-MM-DD: %w", fromStr, err)
				}
			}
			if toStr != "" {
				if to, err = time.Parse("2006-01-02", toStr); err != nil {
					return fmt.Errorf("invalid --to date %q, use YYYY-MM-DD: %w", toStr, err)
				}
			}

			ctx := context.Background()
			sink, err := app.NewAuditSink(ctx, cfg.Audit, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := sink.Close(); cerr != nil {
					logger.Error("close audit sink", "error", cerr)
				}
			}()

			data, err := audit.NewExporter(sink, logger).ExportXLSX(ctx, from, to)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	exportCmd.Flags().String("from", "", "start date YYYY-MM-DD (inclusive)")
	exportCmd.Flags().String("to", "", "end date YYYY-MM-DD (inclusive, defaults to today)")
	exportCmd.Flags().String("out", "intake_audit.xlsx", "output XLSX path")
	cmd.AddCommand(exportCmd)

	return cmd
}
