package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/render"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a cached bundle's citations to an xlsx workbook",
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
			return eris.Wrap(err, "export")
		}
		if bundle == nil {
			return eris.Errorf("no cached synthesis for run %s; run synthesize first", args[0])
		}

		out := exportOut
		if out == "" {
			out = args[0] + "-citations.xlsx"
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create workbook file")
		}
		if err := render.WriteCitationsWorkbook(f, bundle); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close workbook file")
		}

		zap.L().Info("citations exported",
			zap.String("run_id", args[0]),
			zap.Int("citations", len(bundle.Citations.Sources)),
			zap.String("file", out),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <run-id>-citations.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
