package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propflow/skiptrace-cli/internal/ingest"
	"github.com/propflow/skiptrace-cli/internal/model"
)

var (
	uploadFile     string
	uploadOwner    string
	uploadNoHeader bool
)

// uploadProposal is what upload prints: the new batch and its proposed
// column mapping, for the operator to review before confirming.
type uploadProposal struct {
	BatchID   string              `json:"batch_id"`
	Filename  string              `json:"filename"`
	TotalRows int                 `json:"total_rows"`
	Mapping   model.ColumnMapping `json:"mapping"`
	// Unmatched lists column indexes the mapper could not preselect;
	// these stay skipped unless assigned during process.
	Unmatched []int `json:"unmatched,omitempty"`
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a spreadsheet and propose a column mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		path, err := filepath.Abs(uploadFile)
		if err != nil {
			return eris.Wrap(err, "resolve file path")
		}
		hasHeader := !uploadNoHeader

		preview, err := ingest.ReadPreview(ctx, path, hasHeader, 3)
		if err != nil {
			return eris.Wrap(err, "read upload")
		}
		if preview.TotalRows == 0 {
			return eris.New("file has no data rows")
		}

		mapper, err := newMapper()
		if err != nil {
			return err
		}
		mapping, err := mapper.Propose(preview.Header, preview.Samples)
		if err != nil {
			return eris.Wrap(err, "column mapping")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		batch := &model.UploadBatch{
			Owner:        uploadOwner,
			SourcePath:   path,
			Filename:     filepath.Base(path),
			HasHeaderRow: hasHeader,
			Mapping:      mapping,
			TotalRows:    preview.TotalRows,
		}
		if err := st.CreateBatch(ctx, batch); err != nil {
			return eris.Wrap(err, "create batch")
		}

		zap.L().Info("batch uploaded",
			zap.String("batch_id", batch.ID),
			zap.String("file", batch.Filename),
			zap.Int("rows", batch.TotalRows),
		)

		proposal := uploadProposal{
			BatchID:   batch.ID,
			Filename:  batch.Filename,
			TotalRows: batch.TotalRows,
			Mapping:   mapping,
		}
		for _, a := range mapping {
			if !a.AutoMatched && a.Field == model.FieldSkip {
				proposal.Unmatched = append(proposal.Unmatched, a.Index)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(proposal)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "CSV or XLSX file to upload (required)")
	uploadCmd.Flags().StringVar(&uploadOwner, "owner", "", "batch owner label")
	uploadCmd.Flags().BoolVar(&uploadNoHeader, "no-header", false, "file has no header row")
	_ = uploadCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(uploadCmd)
}
