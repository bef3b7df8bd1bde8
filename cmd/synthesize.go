package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/render"
)

var (
	synthForce  bool
	synthFormat string
	synthOutDir string
)

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize <run-id>",
	Short: "Build (or serve from cache) the synthesis report for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		bundle, err := env.Pipeline.BuildReport(ctx, args[0], synthForce)
		if err != nil {
			return err
		}

		zap.L().Info("synthesis ready",
			zap.String("run_id", bundle.RunID),
			zap.Bool("from_cache", bundle.FromCache),
			zap.Float64("qa_score", bundle.QA.OverallScore),
			zap.Int("warnings", len(bundle.QA.Warnings)),
		)

		if synthOutDir != "" {
			return writeBundleFiles(synthOutDir, bundle)
		}
		return writeBundle(os.Stdout, bundle, synthFormat)
	},
}

var cachedCmd = &cobra.Command{
	Use:   "cached <run-id>",
	Short: "Print the cached synthesis bundle for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		bundle, err := st.GetBundle(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "cached")
		}
		if bundle == nil {
			fmt.Fprintf(os.Stderr, "No cached synthesis for run %s.\n", args[0])
			return nil
		}
		bundle.FromCache = true

		format, _ := cmd.Flags().GetString("format")
		return writeBundle(os.Stdout, bundle, format)
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <run-id>",
	Short: "Evaluate a run's telemetry and store a diagnostics report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Pipeline.RunDiagnostics(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "diagnose")
		}
		return writeJSON(os.Stdout, rep)
	},
}

func init() {
	synthesizeCmd.Flags().BoolVar(&synthForce, "force", false, "ignore the cached bundle and rebuild")
	synthesizeCmd.Flags().StringVar(&synthFormat, "format", render.FormatMarkdown, "stdout format: markdown, html or json")
	synthesizeCmd.Flags().StringVar(&synthOutDir, "out", "", "write report.md, report.html and bundle.json to this directory")
	cachedCmd.Flags().String("format", "json", "output format: markdown, html or json")

	rootCmd.AddCommand(synthesizeCmd)
	rootCmd.AddCommand(cachedCmd)
	rootCmd.AddCommand(diagnoseCmd)
}

// writeBundle writes one rendered document, or the whole bundle as JSON.
func writeBundle(w io.Writer, b *model.SynthesisBundle, format string) error {
	switch format {
	case "json":
		return writeJSON(w, b)
	case render.FormatMarkdown, render.FormatHTML:
		doc, ok := b.Documents[format]
		if !ok {
			return eris.Errorf("bundle has no %s document", format)
		}
		_, err := io.WriteString(w, doc)
		return err
	default:
		return eris.Errorf("unsupported format: %s", format)
	}
}

// writeBundleFiles writes the documents and the bundle JSON into dir.
func writeBundleFiles(dir string, b *model.SynthesisBundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "create output dir")
	}
	files := map[string]string{
		"report.md":   b.Documents[render.FormatMarkdown],
		"report.html": b.Documents[render.FormatHTML],
	}
	for name, body := range files {
		if body == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			return eris.Wrapf(err, "write %s", name)
		}
	}

	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal bundle")
	}
	if err := os.WriteFile(filepath.Join(dir, "bundle.json"), raw, 0o644); err != nil {
		return eris.Wrap(err, "write bundle.json")
	}
	zap.L().Info("report written", zap.String("dir", dir))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
