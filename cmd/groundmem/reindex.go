package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the record files",
		Run:   runReindex,
	}
	rootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	layer, err := openLayer()
	if err != nil {
		exitErr("open state", err)
	}
	defer layer.Close()

	if err := layer.RebuildIndex(); err != nil {
		exitErr("reindex", err)
	}
	st := layer.Stats()
	fmt.Printf("indexed %d interactions, %d notes\n", st.Interactions, st.Notes)
}
