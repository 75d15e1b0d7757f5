package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/sensiblebit/anchorkit/internal"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:     "catalog <database>",
	Short:   "List anchors recorded in a catalog database",
	Long:    "Print the anchors previously recorded with --catalog, one row per anchor and source.",
	Example: "  anchorkit catalog anchors.db",
	Args:    cobra.ExactArgs(1),
	RunE:    runCatalog,
}

func runCatalog(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("catalog %s: %w", path, err)
	}

	catalog, err := internal.OpenCatalog(path)
	if err != nil {
		return err
	}
	defer catalog.Close()

	records, err := catalog.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No anchors recorded.")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Source,
			rec.SubjectCN,
			rec.KeyAlgo,
			rec.Fingerprint,
			rec.RecordedAt.Local().Format("2006-01-02 15:04"),
		})
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Source", "Subject CN", "Key", "SHA-256 Fingerprint", "Recorded"})
	table.Bulk(rows)
	table.Render()
	return nil
}
