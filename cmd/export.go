package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propflow/skiptrace-cli/internal/model"
)

var exportOut string

// exportRow flattens one record result into a spreadsheet-friendly row.
type exportRow struct {
	RowNumber      int    `csv:"row_number"`
	Status         string `csv:"status"`
	Reason         string `csv:"reason,omitempty"`
	OwnerFirstName string `csv:"owner_first_name,omitempty"`
	OwnerLastName  string `csv:"owner_last_name,omitempty"`
	OwnerFullName  string `csv:"owner_full_name,omitempty"`
	Phone1         string `csv:"phone_1,omitempty"`
	Phone2         string `csv:"phone_2,omitempty"`
	Phone3         string `csv:"phone_3,omitempty"`
	Emails         string `csv:"emails,omitempty"`
	LastKnownAddr  string `csv:"last_known_address,omitempty"`
	Deceased       bool   `csv:"deceased"`
	Tagged         bool   `csv:"tagged"`
	Duplicate      bool   `csv:"duplicate"`
}

var exportCmd = &cobra.Command{
	Use:   "export <batch-id>",
	Short: "Export per-record results to CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("offline"); err != nil {
			return err
		}
		batchID := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetBatch(ctx, batchID); err != nil {
			return eris.Wrap(err, "get batch")
		}
		results, err := st.GetResults(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "get results")
		}
		if len(results) == 0 {
			return eris.New("batch has no results to export")
		}

		rows := make([]exportRow, 0, len(results))
		for _, res := range results {
			rows = append(rows, exportRowFrom(res))
		}

		data, err := csvutil.Marshal(rows)
		if err != nil {
			return eris.Wrap(err, "marshal csv")
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("%s-results.csv", batchID)
		}
		if out == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return eris.Wrap(err, "write export file")
		}

		zap.L().Info("results exported",
			zap.String("batch_id", batchID),
			zap.Int("rows", len(rows)),
			zap.String("file", out),
		)
		return nil
	},
}

func exportRowFrom(res model.RecordResult) exportRow {
	row := exportRow{
		RowNumber: res.RowNumber,
		Status:    string(res.Status),
		Reason:    res.Reason,
		Tagged:    res.Tagged,
		Duplicate: res.Duplicate,
	}
	c := res.Enrichment
	if c == nil {
		return row
	}

	row.OwnerFirstName = c.OwnerFirstName
	row.OwnerLastName = c.OwnerLastName
	row.OwnerFullName = c.OwnerFullName
	row.Deceased = c.Deceased

	phones := make([]string, 0, 3)
	for _, p := range c.Phones {
		if p.Disconnected {
			continue
		}
		phones = append(phones, p.Number)
		if len(phones) == 3 {
			break
		}
	}
	for i, n := range phones {
		switch i {
		case 0:
			row.Phone1 = n
		case 1:
			row.Phone2 = n
		case 2:
			row.Phone3 = n
		}
	}

	row.Emails = strings.Join(c.Emails, "; ")
	if len(c.Addresses) > 0 {
		a := c.Addresses[0]
		row.LastKnownAddr = strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s", a.Street, a.City, a.State, a.Zip))
	}
	return row
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default <batch-id>-results.csv, - for stdout)")
	rootCmd.AddCommand(exportCmd)
}
