package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/handlers"
	"github.com/jishnu-pg/yesbuy-storefront/internal/intent"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/idempotency"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, closeSecrets, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		defer closeSecrets()

		app, err := buildApp(cfg, intent.NewMemoryStore(), idempotency.NewMemoryStore(), zap.NewNop())
		if err != nil {
			return err
		}
		routes, err := handlers.Routes(app.router)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, r := range routes {
			fmt.Fprintf(tw, "%s\t%s\n", r.Method, r.Pattern)
		}
		return tw.Flush()
	},
}
