// Command groundmem is the read-only status surface over a memory
// engine's persisted state: record counts, pending-vs-validated facts,
// storage size, keyword search, and index rebuilds. It never mutates
// records.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundmem/groundmem/persist"
)

var stateDir string

var rootCmd = &cobra.Command{
	Use:   "groundmem",
	Short: "Inspect a grounded-memory state directory",
	Long:  "Read-only tooling over the memory engine's persisted state: stats, search, reindex.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&stateDir, "state", "s", "", "State directory (default: $GROUNDMEM_STATE or ~/.groundmem)")
}

func statePath() string {
	if stateDir != "" {
		return stateDir
	}
	if env := os.Getenv("GROUNDMEM_STATE"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return home + "/.groundmem"
}

func openLayer() (*persist.Layer, error) {
	return persist.New(statePath())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
