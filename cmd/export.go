package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/store"
)

var (
	exportFormat string
	exportSource string
	exportMake   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export active listings as JSON or CSV",
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

		listings, err := st.ActiveListings(ctx, store.ListingFilter{
			Source: exportSource,
			Make:   exportMake,
		})
		if err != nil {
			return eris.Wrap(err, "export")
		}

		switch exportFormat {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(listings)
		case "csv":
			return writeCSV(os.Stdout, listings)
		default:
			return eris.Errorf("unsupported export format: %s", exportFormat)
		}
	},
}

func writeCSV(out *os.File, listings []model.PersistedListing) error {
	w := csv.NewWriter(out)
	header := []string{
		"id", "source", "url", "title", "year", "make", "model",
		"price", "mileage", "price_per_mile", "location",
		"first_seen_at", "last_seen_at", "times_seen",
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	for _, l := range listings {
		row := []string{
			l.ID,
			l.Source,
			l.URL,
			l.Title,
			cellInt(l.Year),
			cellStr(l.Make),
			cellStr(l.Model),
			cellInt(l.Price),
			cellInt(l.Mileage),
			cellFloat(l.PricePerMile),
			cellStr(l.Location),
			l.FirstSeenAt.Format("2006-01-02"),
			l.LastSeenAt.Format("2006-01-02"),
			strconv.Itoa(l.TimesSeen),
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

func cellStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cellInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func cellFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v)
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format (json, csv)")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "filter by source")
	exportCmd.Flags().StringVar(&exportMake, "make", "", "filter by make")
	rootCmd.AddCommand(exportCmd)
}
