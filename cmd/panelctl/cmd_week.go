package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tavern-panel/panel/internal/weeks"
)

func newWeekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Inspect and roll over weeks",
	}
	cmd.AddCommand(newWeekShowCmd(), newWeekRefreshCmd(), newWeekFinalizeCmd())
	return cmd
}

func newWeekShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the live figures of the active week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			p, err := e.services.Weeks.Preview(cmd.Context())
			if err != nil {
				return err
			}
			printPreview(cmd, p)
			return nil
		},
	}
}

func newWeekRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompute and store the totals of the active week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			if _, err := e.services.Weeks.EnsureActive(cmd.Context(), time.Now()); err != nil {
				return err
			}
			w, err := e.services.Weeks.RefreshActive(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d ventes, %d ménages, CA %.2f, commissions %.2f\n",
				w.Label(), w.SalesCount, w.CleaningCount, w.Revenue, w.Commissions)
			return nil
		},
	}
}

func newWeekFinalizeCmd() *cobra.Command {
	var (
		actor string
		notes string
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Freeze the active week, book tax and commissions, open the next week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to finalize without --yes")
			}
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			patron, err := e.services.Employees.ByUsername(cmd.Context(), actor)
			if err != nil {
				return fmt.Errorf("actor %q: %w", actor, err)
			}
			res, err := e.services.Weeks.Finalize(cmd.Context(), weeks.FinalizeInput{
				ActorID: patron.ID,
				Today:   time.Now(),
				Notes:   notes,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s finalisée: CA %.2f, impôt %.2f, commissions %.2f, net %.2f\n",
				res.Finalized.Label(), res.Finalized.Revenue, res.Finalized.Tax, res.Finalized.Commissions, res.Finalized.Net)
			fmt.Fprintf(out, "%s ouverte du %s au %s\n", res.Next.Label(), res.Next.Start.Format("02/01/2006"), res.Next.End.Format("02/01/2006"))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "username recorded as author of the rollover")
	cmd.Flags().StringVar(&notes, "notes", "", "closing notes stored with the week")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the rollover")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func printPreview(cmd *cobra.Command, p weeks.Preview) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s - %s)\n", p.Week.Label(), p.Week.Start.Format("02/01/2006"), p.Week.End.Format("02/01/2006"))
	fmt.Fprintf(out, "CA %.2f  commissions %.2f  impôt projeté %.2f (%.2f %%)  net %.2f\n\n",
		p.Totals.Revenue, p.Totals.Commissions, p.Tax.Total, p.Tax.EffectiveRate, p.Net)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMPLOYÉ\tRÔLE\tVENTES\tMÉNAGES\tCA\tCOMMISSION")
	for _, row := range p.Performance {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\n", row.DisplayName, row.Role.Label(), row.SalesCount, row.CleaningCount, row.TotalRevenue, row.TotalCommission)
	}
	_ = tw.Flush()
}
