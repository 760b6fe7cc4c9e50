package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/newthinker/keywatch/internal/series"
	"github.com/spf13/cobra"
)

var (
	queryFrom     string
	queryTo       string
	queryResample time.Duration
	queryAgg      string
	queryFill     bool
)

var queryCmd = &cobra.Command{
	Use:   "query [collector] [keyword]",
	Short: "Print a keyword series, fetching what the cache lacks",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "Start, RFC 3339 or YYYY-MM-DD (required)")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "End, RFC 3339 or YYYY-MM-DD (default now)")
	queryCmd.Flags().DurationVar(&queryResample, "resample", 0, "Bucket rows into intervals of this length")
	queryCmd.Flags().StringVar(&queryAgg, "agg", "sum", "Bucket aggregation: sum, mean, count or last")
	queryCmd.Flags().BoolVar(&queryFill, "fill", false, "Emit empty buckets between the first and last")

	queryCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	start, end, err := parseWindow(queryFrom, queryTo)
	if err != nil {
		return err
	}
	agg, err := series.ParseAggregation(queryAgg)
	if err != nil {
		return err
	}

	_, a, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	rows, err := a.Query(cmd.Context(), args[0], args[1], start, end)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if queryResample <= 0 {
		fmt.Fprintln(w, "TIME\tVALUE\tID\tPARTIAL")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%g\t%s\t%t\n", r.Time.Format(time.RFC3339), r.Value, r.ID, r.Partial)
		}
		return nil
	}

	buckets, err := series.Resample(rows, queryResample, agg)
	if err != nil {
		return err
	}
	if queryFill {
		buckets = series.Fill(buckets, queryResample)
	}
	fmt.Fprintln(w, "TIME\tVALUE\tROWS\tPARTIAL")
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%g\t%d\t%t\n", b.Time.Format(time.RFC3339), b.Value, b.Rows, b.Partial)
	}
	return nil
}
