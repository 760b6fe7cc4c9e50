package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	exportFrom string
	exportTo   string
)

var exportCmd = &cobra.Command{
	Use:   "export [collector] [keyword]",
	Short: "Write a keyword series to the configured archive",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start, RFC 3339 or YYYY-MM-DD (required)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End, RFC 3339 or YYYY-MM-DD (default now)")

	exportCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	start, end, err := parseWindow(exportFrom, exportTo)
	if err != nil {
		return err
	}

	_, a, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	path, err := a.Export(cmd.Context(), args[0], args[1], start, end)
	if err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}
