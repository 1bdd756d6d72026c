package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/propflow/skiptrace-cli/internal/cost"
	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/store"
)

var (
	statusResults bool
	statusOwner   string
	statusLimit   int
)

// statusOutput is the full status surface for one batch.
type statusOutput struct {
	Batch    *model.UploadBatch   `json:"batch"`
	Progress *model.Progress      `json:"progress"`
	Cost     cost.Summary         `json:"cost"`
	Estimate *cost.Estimate       `json:"estimate,omitempty"`
	Results  []model.RecordResult `json:"results,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status [batch-id]",
	Short: "Show batch status and counts, or list batches",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 0 {
			batches, err := st.ListBatches(ctx, store.BatchFilter{Owner: statusOwner, Limit: statusLimit})
			if err != nil {
				return eris.Wrap(err, "list batches")
			}
			return enc.Encode(batches)
		}

		batchID := args[0]
		batch, err := st.GetBatch(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "get batch")
		}

		progress, err := newOrchestrator(st).Progress(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "get progress")
		}

		calc := cost.NewCalculator(cfg.Pricing)
		out := statusOutput{
			Batch:    batch,
			Progress: progress,
			Cost:     calc.Summarize(progress.Counts),
		}
		if batch.Status == model.BatchStatusMapping {
			// Not yet confirmed: project what a run may cost.
			est := calc.Estimate(batch.TotalRows, model.RefreshPreferCache)
			out.Estimate = &est
		}
		if statusResults {
			results, err := st.GetResults(ctx, batchID)
			if err != nil {
				return eris.Wrap(err, "get results")
			}
			out.Results = results
		}

		return enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusResults, "results", false, "include per-record results")
	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "filter listed batches by owner")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max batches to list")
	rootCmd.AddCommand(statusCmd)
}
