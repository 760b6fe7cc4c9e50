package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage [collector] [keyword]",
	Short: "Show which time ranges of a keyword are cached",
	Args:  cobra.ExactArgs(2),
	RunE:  runCoverage,
}

func init() {
	rootCmd.AddCommand(coverageCmd)
}

func runCoverage(cmd *cobra.Command, args []string) error {
	_, a, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	ivs, err := a.Coverage(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if len(ivs) == 0 {
		fmt.Println("nothing cached")
		return nil
	}
	for _, iv := range ivs {
		fmt.Printf("%s  %s  (%s)\n", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339), iv.End.Sub(iv.Start))
	}
	return nil
}
