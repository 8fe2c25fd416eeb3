package main

import (
	"fmt"
	"os"

	"github.com/khabaroff/pcn-tracker/src/handlers"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pcn-tracker",
		Short:         "Sales appointment and post-call note tracker",
		Version:       handlers.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(jobCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
