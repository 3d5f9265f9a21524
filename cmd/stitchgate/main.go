package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/n9te9/stitchgate/gateway"
	"github.com/n9te9/stitchgate/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the gateway",
	Run: func(cmd *cobra.Command, args []string) {
		println("stitchgate v0.1.0")
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Run: func(cmd *cobra.Command, args []string) {
		server.Run()
	},
}

var (
	planConfigPath    string
	planQuery         string
	planOperationName string
	planVariablesRaw  string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the Plan a query would produce, without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := gateway.LoadConfig(planConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		gw, err := gateway.NewGateway(*settings)
		if err != nil {
			return fmt.Errorf("building gateway: %w", err)
		}

		var variables map[string]interface{}
		if planVariablesRaw != "" {
			if err := json.Unmarshal([]byte(planVariablesRaw), &variables); err != nil {
				return fmt.Errorf("parsing --variables: %w", err)
			}
		}

		plan, err := gw.Plan(context.Background(), planQuery, planOperationName, variables)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding plan: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planConfigPath, "config", "gateway.yaml", "path to the gateway config file")
	planCmd.Flags().StringVar(&planQuery, "query", "", "GraphQL query to plan")
	planCmd.Flags().StringVar(&planOperationName, "operation-name", "", "operation name, if the query defines more than one")
	planCmd.Flags().StringVar(&planVariablesRaw, "variables", "", "JSON-encoded variables object")
	planCmd.MarkFlagRequired("query") //nolint:errcheck
}

func main() {
	rootCmd := cobra.Command{}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(planCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
