// promptdial is the pipeline server and receipt verification CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// A local .env overrides nothing already exported.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "promptdial",
		Short: "Prompt optimization pipeline",
		Long: `promptdial runs a staged prompt-optimization pipeline: sanitize,
classify, plan, retrieve, build variants, run, evaluate, select, and attach
a signed receipt.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newVerifyReceiptCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
