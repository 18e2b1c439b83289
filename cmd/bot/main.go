// Package main is the entry point for the testbook bot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/eliseohh/testbookbot/internal/bot"
	"github.com/eliseohh/testbookbot/internal/config"
	"github.com/eliseohh/testbookbot/internal/ledger"
	"github.com/eliseohh/testbookbot/internal/metrics"
	"github.com/eliseohh/testbookbot/internal/render"
	"github.com/eliseohh/testbookbot/internal/session"
	"github.com/eliseohh/testbookbot/internal/testbook"
	"github.com/spf13/cobra"
)

// Set by ldflags.
var version = "dev"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type runOptions struct {
	dataDir     string
	dbPath      string
	metricsAddr string
	logLevel    string
}

func rootCmd() *cobra.Command {
	opts := &runOptions{}
	root := &cobra.Command{
		Use:           "testbookbot",
		Short:         "Telegram bot that delivers Testbook tests as HTML and TXT files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&opts.dataDir, "data-dir", ".", "Directory holding config.json and admins.json")
	f.StringVar(&opts.dbPath, "db", "", "Delivery ledger path (default <data-dir>/deliveries.db)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Listen address for /metrics and /healthz (empty disables)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the bot (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), opts)
			},
		},
		renderCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("testbookbot %s\n", version)
		},
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func run(ctx context.Context, opts *runOptions) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}

	env, err := config.LoadEnv(nil)
	if err != nil {
		return err
	}

	settings, err := config.NewStore(opts.dataDir, env.OwnerID)
	if err != nil {
		return err
	}

	m := metrics.New()
	client := testbook.NewClient(settings,
		testbook.WithLogger(logger),
		testbook.WithObserver(m),
	)

	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = filepath.Join(opts.dataDir, "deliveries.db")
	}
	db, err := ledger.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	sessions := session.NewStore()
	stopSweeper, err := sessions.StartSweeper(logger)
	if err != nil {
		return err
	}
	defer stopSweeper()

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	b, err := bot.New(bot.Config{Token: env.BotToken}, bot.Deps{
		Catalog:  client,
		Settings: settings,
		Sessions: sessions,
		Ledger:   db,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Start()
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	b.Stop()
	<-done
	return nil
}

func renderCmd() *cobra.Command {
	var format, outDir string
	cmd := &cobra.Command{
		Use:   "render <questionset.json>",
		Short: "Render a saved question set to HTML and/or TXT",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, ok := bot.ParseFormat(format)
			if !ok {
				return fmt.Errorf("unknown format %q", format)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var set testbook.QuestionSet
			if err := json.Unmarshal(data, &set); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			title := set.Title
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			details := testbook.NewDetails(testbook.TestSummary{
				Title:         title,
				QuestionCount: testbook.Scalar(fmt.Sprint(len(set.Questions))),
			}, testbook.Series{}, testbook.Section{}, testbook.Subsection{}, &set)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			outputs := map[string]func() string{
				"html": func() string { return render.HTML(&set, details) },
				"txt":  func() string { return render.TXT(&set, details) },
			}
			for _, ext := range []string{"html", "txt"} {
				if f == bot.FormatHTML && ext != "html" || f == bot.FormatTXT && ext != "txt" {
					continue
				}
				path := filepath.Join(outDir, render.FileName(title, ext))
				if err := os.WriteFile(path, []byte(outputs[ext]()), 0o644); err != nil {
					return err
				}
				fmt.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "both", "Output format: html, txt or both")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	return cmd
}
