package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/sales"
)

type menuSeeder interface {
	Products(ctx context.Context, activeOnly bool) ([]sales.Product, error)
	CreateProduct(ctx context.Context, in sales.ProductInput) (sales.Product, error)
}

type bracketSeeder interface {
	Brackets(ctx context.Context) ([]payroll.Bracket, error)
	ReplaceBrackets(ctx context.Context, brackets []payroll.Bracket, actorID int64) error
}

var defaultMenu = []sales.ProductInput{
	{Name: "Bière pression", Category: "Boissons", Price: 6},
	{Name: "Whisky", Category: "Boissons", Price: 15},
	{Name: "Vin rouge", Category: "Boissons", Price: 8},
	{Name: "Soda", Category: "Boissons", Price: 4},
	{Name: "Burger", Category: "Cuisine", Price: 18},
	{Name: "Assiette de charcuterie", Category: "Cuisine", Price: 14},
	{Name: "Cigare", Category: "Divers", Price: 25},
}

func defaultBrackets() []payroll.Bracket {
	first, second := 10000.0, 50000.0
	return []payroll.Bracket{
		{Min: 0, Max: &first, Rate: 0},
		{Min: first, Max: &second, Rate: 10},
		{Min: second, Rate: 20},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load a starter menu and tax brackets into an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			return seedDefaults(cmd.Context(), cmd.OutOrStdout(), e.services.Sales, e.services.Settings)
		},
	}
}

// seedDefaults only fills what is empty, so it is safe to run twice.
func seedDefaults(ctx context.Context, out io.Writer, menu menuSeeder, tax bracketSeeder) error {
	existing, err := menu.Products(ctx, false)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	if len(existing) == 0 {
		for _, p := range defaultMenu {
			if _, err := menu.CreateProduct(ctx, p); err != nil {
				return fmt.Errorf("create product %q: %w", p.Name, err)
			}
		}
		fmt.Fprintf(out, "menu: %d products created\n", len(defaultMenu))
	} else {
		fmt.Fprintf(out, "menu: %d products already present, skipped\n", len(existing))
	}

	brackets, err := tax.Brackets(ctx)
	if err != nil {
		return fmt.Errorf("list brackets: %w", err)
	}
	if len(brackets) > 0 {
		fmt.Fprintf(out, "tax: %d brackets already present, skipped\n", len(brackets))
		return nil
	}
	seed := defaultBrackets()
	if err := tax.ReplaceBrackets(ctx, seed, 0); err != nil {
		return fmt.Errorf("replace brackets: %w", err)
	}
	fmt.Fprintf(out, "tax: %d brackets created\n", len(seed))
	return nil
}
