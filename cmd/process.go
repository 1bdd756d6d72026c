package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propflow/skiptrace-cli/internal/cost"
	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/schema"
)

var (
	processAssigns []string
	processPolicy  string
	processTags    []string
)

// processOutput is what process prints when the run ends.
type processOutput struct {
	Progress *model.Progress `json:"progress"`
	Cost     cost.Summary    `json:"cost"`
}

var processCmd = &cobra.Command{
	Use:   "process <batch-id>",
	Short: "Confirm the column mapping and run or resume batch processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("process"); err != nil {
			return err
		}
		batchID := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		batch, err := st.GetBatch(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "get batch")
		}

		switch batch.Status {
		case model.BatchStatusMapping:
			mapping, err := applyAssignments(batch.Mapping, processAssigns)
			if err != nil {
				return err
			}
			if err := schema.Validate(mapping); err != nil {
				return eris.Wrap(err, "mapping invalid")
			}
			policy, err := parsePolicy(processPolicy)
			if err != nil {
				return err
			}
			if err := st.ConfirmMapping(ctx, batchID, mapping, policy, processTags, batch.TotalRows); err != nil {
				return eris.Wrap(err, "confirm mapping")
			}
			zap.L().Info("mapping confirmed",
				zap.String("batch_id", batchID),
				zap.String("policy", string(policy)),
				zap.Strings("tags", processTags),
			)
		default:
			// Already confirmed: this is a resume. Mapping edits are only
			// allowed before the first run.
			if len(processAssigns) > 0 {
				return eris.Errorf("batch is %s; column assignments can only change while it is in mapping", batch.Status)
			}
			zap.L().Info("resuming batch", zap.String("batch_id", batchID), zap.String("status", string(batch.Status)))
		}

		orch := newOrchestrator(st)
		progress, runErr := orch.Run(ctx, batchID)
		if progress != nil {
			calc := cost.NewCalculator(cfg.Pricing)
			out := processOutput{Progress: progress, Cost: calc.Summarize(progress.Counts)}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
		}
		return runErr
	},
}

// applyAssignments applies --assign index=field overrides to the
// proposed mapping.
func applyAssignments(mapping model.ColumnMapping, assigns []string) (model.ColumnMapping, error) {
	for _, raw := range assigns {
		idxStr, fieldStr, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, eris.Errorf("malformed --assign %q, want index=field", raw)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			return nil, eris.Errorf("malformed --assign %q: bad column index", raw)
		}
		field, err := parseField(strings.TrimSpace(fieldStr))
		if err != nil {
			return nil, err
		}
		mapping, err = schema.Assign(mapping, idx, field)
		if err != nil {
			return nil, eris.Wrapf(err, "assign column %d", idx)
		}
	}
	return mapping, nil
}

func parseField(name string) (model.CanonicalField, error) {
	if name == "skip" || name == "" {
		return model.FieldSkip, nil
	}
	for _, f := range model.CanonicalFields {
		if name == string(f) {
			return f, nil
		}
	}
	return model.FieldSkip, eris.Errorf("unknown field %q", name)
}

func parsePolicy(name string) (model.RefreshPolicy, error) {
	switch model.RefreshPolicy(name) {
	case model.RefreshPreferCache, model.RefreshForce:
		return model.RefreshPolicy(name), nil
	default:
		return "", eris.Errorf("unknown refresh policy %q, want prefer_cache or force_refresh", name)
	}
}

func init() {
	processCmd.Flags().StringArrayVar(&processAssigns, "assign", nil, "override a column assignment, index=field (repeatable)")
	processCmd.Flags().StringVar(&processPolicy, "policy", string(model.RefreshPreferCache), "refresh policy: prefer_cache or force_refresh")
	processCmd.Flags().StringSliceVar(&processTags, "tag", nil, "tag to apply to enriched records (repeatable)")
	rootCmd.AddCommand(processCmd)
}
