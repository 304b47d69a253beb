package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/saline-motors/truckwatch/internal/store"
)

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "Rank active listings and price movements",
	Long:  "Commands for surfacing the best price-per-mile listings, recent price drops, and per-model market aggregates.",
}

// -- deals best --

var dealsBestCmd = &cobra.Command{
	Use:   "best",
	Short: "List active listings with the lowest price per mile",
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

		limit, _ := cmd.Flags().GetInt("limit")
		deals, err := st.BestDeals(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "deals best")
		}

		if len(deals) == 0 {
			fmt.Fprintln(os.Stderr, "No priced listings with mileage yet.")
			return nil
		}

		formatDeals(os.Stdout, deals)
		return nil
	},
}

// -- deals drops --

var dealsDropsCmd = &cobra.Command{
	Use:   "drops",
	Short: "List listings whose price fell since the last observation",
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

		limit, _ := cmd.Flags().GetInt("limit")
		drops, err := st.PriceDrops(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "deals drops")
		}

		if len(drops) == 0 {
			fmt.Fprintln(os.Stderr, "No price drops recorded.")
			return nil
		}

		formatDrops(os.Stdout, drops)
		return nil
	},
}

// -- deals models --

var dealsModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Aggregate active listings by make and model",
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

		minCount, _ := cmd.Flags().GetInt("min-count")
		rows, err := st.MakeModelStats(ctx, minCount)
		if err != nil {
			return eris.Wrap(err, "deals models")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No make/model groups meet the threshold.")
			return nil
		}

		formatModels(os.Stdout, rows)
		return nil
	},
}

func formatDeals(out io.Writer, deals []store.Deal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VEHICLE\tPRICE\tMILEAGE\t$/MI\tLOCATION\tURL")

	for _, d := range deals {
		_, _ = fmt.Fprintf(w, "%s\t$%d\t%d\t%.3f\t%s\t%s\n",
			vehicleLabel(d.Year, d.Make, d.Model),
			d.Price,
			d.Mileage,
			d.PricePerMile,
			orDash(d.Location),
			d.URL,
		)
	}
	_ = w.Flush()
}

func formatDrops(out io.Writer, drops []store.PriceDrop) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VEHICLE\tWAS\tNOW\tSAVINGS\tLOCATION\tURL")

	for _, d := range drops {
		_, _ = fmt.Fprintf(w, "%s\t$%d\t$%d\t$%d\t%s\t%s\n",
			vehicleLabel(d.Year, d.Make, d.Model),
			d.OldPrice,
			d.CurrentPrice,
			d.Savings,
			orDash(d.Location),
			d.URL,
		)
	}
	_ = w.Flush()
}

func formatModels(out io.Writer, rows []store.MakeModelStat) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MAKE\tMODEL\tCOUNT\tAVG PRICE\tAVG MILEAGE\tAVG $/MI")

	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Make,
			r.Model,
			r.Count,
			floatCell(r.AvgPrice, "$%.0f"),
			floatCell(r.AvgMileage, "%.0f"),
			floatCell(r.AvgPricePerMile, "%.3f"),
		)
	}
	_ = w.Flush()
}

// vehicleLabel renders "2019 Toyota Tacoma" with dashes for unknown parts.
func vehicleLabel(year *int, mk, mdl *string) string {
	y := "----"
	if year != nil {
		y = fmt.Sprintf("%d", *year)
	}
	return fmt.Sprintf("%s %s %s", y, orDash(mk), orDash(mdl))
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func floatCell(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func init() {
	dealsBestCmd.Flags().Int("limit", 20, "max number of deals to display")
	dealsDropsCmd.Flags().Int("limit", 20, "max number of drops to display")
	dealsModelsCmd.Flags().Int("min-count", 3, "minimum listings per make/model group")

	dealsCmd.AddCommand(dealsBestCmd)
	dealsCmd.AddCommand(dealsDropsCmd)
	dealsCmd.AddCommand(dealsModelsCmd)
	rootCmd.AddCommand(dealsCmd)
}
