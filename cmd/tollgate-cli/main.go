package main

import (
	"fmt"
	"os"

	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightninglabs/tollgate/secrets"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/spf13/cobra"
)

var dbFile string

var rootCmd = &cobra.Command{
	Use:   "tollgate-cli",
	Short: "Offline inspection tool for the tollgate credential ledger",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the live credential count and their outstanding balance",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(
		&dbFile, "dbfile", secrets.DefaultDBFilename,
		"path of the ledger database file",
	)
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	store, err := secrets.NewReadOnlyStore(dbFile)
	if err != nil {
		return fmt.Errorf("unable to open ledger %s: %v", dbFile, err)
	}
	defer func() {
		_ = store.Close()
	}()

	var (
		numEntries  int
		outstanding lnwire.MilliSatoshi
	)
	err = store.ForEachEntry(cmd.Context(), func(entry *mint.Entry) error {
		numEntries++
		outstanding += entry.Quota
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("credentials: %d\n", numEntries)
	fmt.Printf("outstanding: %d msat\n", outstanding)

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
