package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/article-engine/internal/config"
	"github.com/sells-group/article-engine/internal/model"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Print the configured failover order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeProviders); err != nil {
			return err
		}
		return writeProviders(cmd.OutOrStdout(), cfg.Providers)
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

// writeProviders prints providers in the order the router tries them.
func writeProviders(w io.Writer, providers []model.ProviderConfig) error {
	if len(providers) == 0 {
		_, err := fmt.Fprintln(w, "no providers configured")
		return err
	}

	sorted := slices.Clone(providers)
	slices.SortStableFunc(sorted, func(a, b model.ProviderConfig) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.Name, b.Name))
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tKIND\tMODEL\tRPM\tTPM\tKEY\tSTATE")
	for i, p := range sorted {
		key := "set"
		if p.APIKey == "" {
			key = "missing"
		}
		state := "enabled"
		if p.Disabled {
			state = "disabled"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, p.Name, p.Kind, p.Model, orDefault(p.RequestsPerMinute), orDefault(p.TokensPerMinute), key, state)
	}
	return tw.Flush()
}

func orDefault[T int | int64](v T) string {
	if v <= 0 {
		return "default"
	}
	return fmt.Sprint(v)
}
