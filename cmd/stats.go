package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/saline-motors/truckwatch/internal/store"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database summary statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		formatStats(os.Stdout, stats)
		return nil
	},
}

func formatStats(out io.Writer, s *store.DBStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total listings:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", s.Active)
	_, _ = fmt.Fprintf(w, "Inactive:\t%d\n", s.Inactive)

	sources := make([]string, 0, len(s.BySource))
	for src := range s.BySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", src, s.BySource[src])
	}

	if s.MinPrice != nil && s.MaxPrice != nil {
		_, _ = fmt.Fprintf(w, "Price range:\t$%d - $%d\n", *s.MinPrice, *s.MaxPrice)
	}
	if s.AvgPrice != nil {
		_, _ = fmt.Fprintf(w, "Avg price:\t$%.0f\n", *s.AvgPrice)
	}
	if s.LastRun != nil {
		_, _ = fmt.Fprintf(w, "Last run:\t%s (%s, found %d, new %d)\n",
			s.LastRun.RunAt.Format(time.RFC3339),
			s.LastRun.Source,
			s.LastRun.Found,
			s.LastRun.New,
		)
	}
	_ = w.Flush()
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(statsCmd)
}
