package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/store"
)

var (
	batchLimit  int
	batchStatus string
	batchForce  bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [run-id...]",
	Short: "Synthesize many runs concurrently",
	Long:  "Synthesizes the given run ids, or every stored run with --status when none are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runIDs := args
		if len(runIDs) == 0 {
			runIDs, err = listRunIDs(ctx, env.Store, model.RunStatus(batchStatus), batchLimit)
			if err != nil {
				return err
			}
		}

		_, err = processBatch(ctx, runIDs, batchLimit, cfg.Batch.MaxConcurrentRuns, func(ctx context.Context, runID string) (*model.SynthesisBundle, error) {
			return env.Pipeline.BuildReport(ctx, runID, batchForce)
		})
		return err
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of runs to process")
	batchCmd.Flags().StringVar(&batchStatus, "status", string(model.RunStatusQueued), "run status to select when no ids are given")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "ignore cached bundles and rebuild")
	rootCmd.AddCommand(batchCmd)
}

func listRunIDs(ctx context.Context, st store.ModuleStore, status model.RunStatus, limit int) ([]string, error) {
	runs, err := st.ListRuns(ctx, store.RunFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "batch: list runs")
	}
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids, nil
}

// synthFunc is the callback signature for synthesizing one run.
type synthFunc func(ctx context.Context, runID string) (*model.SynthesisBundle, error)

// batchResult counts the outcome of a batch.
type batchResult struct {
	Succeeded int64
	Failed    int64
}

// processBatch applies limit, then synthesizes runIDs concurrently. One
// run's failure never aborts the batch. Cancelling ctx stops new runs from
// starting.
func processBatch(ctx context.Context, runIDs []string, limit, concurrency int, synth synthFunc) (batchResult, error) {
	if len(runIDs) == 0 {
		zap.L().Info("no runs to synthesize")
		return batchResult{}, nil
	}

	if limit > 0 && len(runIDs) > limit {
		runIDs = runIDs[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("runs", len(runIDs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, runID := range runIDs {
		g.Go(func() error {
			log := zap.L().With(zap.String("run_id", runID))
			if gctx.Err() != nil {
				// Interrupted: runs already started finish, the rest are not begun.
				return nil
			}

			bundle, err := synth(gctx, runID)
			if err != nil {
				failed.Add(1)
				log.Error("synthesis failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("synthesis complete",
				zap.Bool("from_cache", bundle.FromCache),
				zap.Float64("qa_score", bundle.QA.OverallScore),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return batchResult{}, eris.Wrap(err, "batch processing")
	}

	res := batchResult{Succeeded: succeeded.Load(), Failed: failed.Load()}
	zap.L().Info("batch complete",
		zap.Int64("succeeded", res.Succeeded),
		zap.Int64("failed", res.Failed),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
