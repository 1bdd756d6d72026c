package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propflow/skiptrace-cli/internal/litigator"
)

var (
	litigatorsFile  string
	litigatorsMerge bool
)

var litigatorsCmd = &cobra.Command{
	Use:   "litigators",
	Short: "Load the litigator blocklist from a CSV file",
	Long:  "Replaces the litigator blocklist with the file's contents, or merges the file over the existing list with --merge. Rows without a usable name and street are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		loaded, err := litigator.LoadCSV(ctx, litigatorsFile)
		if err != nil {
			return eris.Wrap(err, "load blocklist file")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var written int
		if litigatorsMerge {
			written, err = st.UpsertLitigators(ctx, loaded.Records)
		} else {
			written, err = st.ReplaceLitigators(ctx, loaded.Records)
		}
		if err != nil {
			return eris.Wrap(err, "write blocklist")
		}

		total, err := st.CountLitigators(ctx)
		if err != nil {
			return eris.Wrap(err, "count blocklist")
		}

		zap.L().Info("litigator blocklist loaded",
			zap.String("file", litigatorsFile),
			zap.Bool("merge", litigatorsMerge),
			zap.Int("written", written),
			zap.Int("skipped_rows", loaded.Skipped),
			zap.Int("total", total),
		)
		return nil
	},
}

func init() {
	litigatorsCmd.Flags().StringVar(&litigatorsFile, "file", "", "blocklist CSV file (required)")
	litigatorsCmd.Flags().BoolVar(&litigatorsMerge, "merge", false, "merge over the existing list instead of replacing it")
	_ = litigatorsCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(litigatorsCmd)
}
