// Command portfolioctl folds exported balances and ledgers offline, without
// a database, for support and reconciliation work.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/ledger"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
	"github.com/watersalamander/portfolio-dashboard/internal/valuation"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type foldFlags struct {
	balances   string
	ledger     string
	quotes     string
	fxRate     string
	display    string
	cashExtras []string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "portfolioctl",
		Short:        "Offline tools for portfolio ledgers",
		SilenceUsage: true,
	}
	root.AddCommand(newFoldCmd(), newValidateCmd())
	return root
}

func (f *foldFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.balances, "balances", "", "JSON file with an array of opening balances")
	cmd.Flags().StringVar(&f.ledger, "ledger", "", "JSON file with an array of ledger entries")
	cmd.Flags().StringVar(&f.fxRate, "fx", "", "USD/THB rate (default 35)")
	cmd.Flags().StringSliceVar(&f.cashExtras, "cash", nil, "extra tickers to treat as cash")
}

func newFoldCmd() *cobra.Command {
	var f foldFlags
	cmd := &cobra.Command{
		Use:   "fold",
		Short: "Fold balances and ledger into positions; value them when quotes are given",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := f.load()
			if err != nil {
				return err
			}
			res := ledger.CalculatePositions(in.balances, in.entries, in.fxRate, ledger.WithClassifier(in.cash))
			res.Diagnostics = append(res.Diagnostics, valuation.ValidatePositions(res.Positions, in.fxRate, valuation.WithClassifier(in.cash))...)

			if f.quotes == "" {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			var quotes []model.Quote
			if err := readJSON(f.quotes, &quotes); err != nil {
				return err
			}
			prices := make(map[string]model.Quote, len(quotes))
			for _, q := range quotes {
				prices[asset.Normalize(q.Ticker)] = q
			}
			display, err := currency.Parse(f.display)
			if err != nil {
				return err
			}
			enriched := valuation.EnrichPositions(res.Positions, prices, in.fxRate, display, valuation.WithClassifier(in.cash))
			return writeJSON(cmd.OutOrStdout(), model.Portfolio{
				FXRate:      in.fxRate,
				Positions:   enriched,
				Summary:     valuation.ComputeSummary(enriched, display),
				Diagnostics: res.Diagnostics,
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.quotes, "quotes", "", "JSON file with an array of quotes")
	cmd.Flags().StringVar(&f.display, "currency", "USD", "display currency (USD or THB)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var f foldFlags
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Fold and print data-integrity diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := f.load()
			if err != nil {
				return err
			}
			res := ledger.CalculatePositions(in.balances, in.entries, in.fxRate, ledger.WithClassifier(in.cash))
			diags := append(res.Diagnostics, valuation.ValidatePositions(res.Positions, in.fxRate, valuation.WithClassifier(in.cash))...)

			out := cmd.OutOrStdout()
			for _, d := range diags {
				fmt.Fprintln(out, d.String())
			}
			fmt.Fprintf(out, "%d positions, %d diagnostics\n", len(res.Positions), len(diags))
			if strict && len(diags) > 0 {
				return fmt.Errorf("%d diagnostics found", len(diags))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any diagnostic is found")
	return cmd
}

type foldInput struct {
	balances []model.InitialBalance
	entries  []model.LedgerEntry
	fxRate   decimal.Decimal
	cash     *asset.Classifier
}

func (f *foldFlags) load() (*foldInput, error) {
	in := &foldInput{
		fxRate: currency.DefaultUSDTHB,
		cash:   asset.NewClassifier(f.cashExtras...),
	}
	if f.balances != "" {
		if err := readJSON(f.balances, &in.balances); err != nil {
			return nil, err
		}
	}
	if f.ledger != "" {
		if err := readJSON(f.ledger, &in.entries); err != nil {
			return nil, err
		}
	}
	if f.fxRate != "" {
		rate, err := decimal.NewFromString(f.fxRate)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid --fx %q: must be a positive number", f.fxRate)
		}
		in.fxRate = rate
	}
	return in, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
