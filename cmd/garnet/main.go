package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/garnet-dev/garnet"
	"github.com/garnet-dev/garnet/internal/watch"
)

var (
	flagRoot    string
	flagDB      string
	flagFormat  string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "garnet",
	Short:         "Editor-assistance engine for Ruby",
	Long:          "Garnet indexes a Ruby workspace with tree-sitter and answers definition, reference, hover, and diagnostic queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagFormat != "json" && flagFormat != "text" {
			return fmt.Errorf("invalid format %q (want json or text)", flagFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "project root")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "snapshot database path (default: .garnet/index.db under the root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(defCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(diagCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

// newEngine builds an engine rooted at --root and opens the project.
func newEngine(ctx context.Context) (*garnet.Engine, error) {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []garnet.Option{garnet.WithLogger(log)}
	if db := resolveDBPath(); db != "" {
		if err := os.MkdirAll(filepath.Dir(db), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(db), err)
		}
		opts = append(opts, garnet.WithPersistence(db))
	}

	e := garnet.New(opts...)
	if err := e.OpenProject(ctx, flagRoot); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func resolveDBPath() string {
	if flagDB != "" {
		return flagDB
	}
	return filepath.Join(flagRoot, ".garnet", "index.db")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the workspace and persist the snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return output(map[string]any{
			"files":    e.FileCount(),
			"symbols":  e.SymbolCount(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index size and cache hit rates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return output(map[string]any{
			"files":     e.FileCount(),
			"symbols":   e.SymbolCount(),
			"hit_rates": e.CacheStats(),
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Index the workspace and reindex on file changes until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		fmt.Fprintf(os.Stderr, "garnet: watching %s (%d files indexed)\n", flagRoot, e.FileCount())

		w, err := watch.New(flagRoot, nil, slog.Default())
		if err != nil {
			return err
		}
		err = w.Run(ctx, func(ev watch.Event) {
			if ev.Removed {
				e.RemoveDocument(ev.Path)
				return
			}
			content, readErr := os.ReadFile(ev.Path)
			if readErr != nil {
				return
			}
			version := time.Now().UnixNano()
			if updateErr := e.UpdateDocument(ctx, ev.Path, content, version); updateErr != nil {
				fmt.Fprintf(os.Stderr, "garnet: reindex %s: %s\n", ev.Path, updateErr)
			}
		})
		if ctx.Err() != nil {
			return nil // clean shutdown on signal
		}
		return err
	},
}
