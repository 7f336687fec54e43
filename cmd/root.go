package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pay-ledger",
	Short: "Pay ledger microservice",
	Long:  "A pay ledger for registry fees: invoices, receipts, routing slips, settlement reconciliation and the batch jobs around them.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
