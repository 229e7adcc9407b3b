package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "storefront",
	Short: "Yesbuy storefront server",
	Long: `Serves the Yesbuy storefront: cart, checkout, payment callbacks,
orders and account pages, backed by the Yesbuy REST API.

Available subcommands:
  serve  - Run the HTTP server
  routes - Print the route table`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with local overrides")
	rootCmd.AddCommand(serveCmd, routesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
