package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundmem/groundmem/persist"
)

var (
	searchUser  string
	searchLimit int
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Keyword search over stored interactions",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}
	cmd.Flags().StringVarP(&searchUser, "user", "u", "", "Restrict to one user")
	cmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum results")
	rootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	layer, err := openLayer()
	if err != nil {
		exitErr("open state", err)
	}
	defer layer.Close()

	recs, err := layer.SearchInteractions(cmd.Context(), strings.Join(args, " "), persist.SearchOptions{
		UserID: searchUser,
		Limit:  searchLimit,
	})
	if err != nil {
		exitErr("search", err)
	}
	b, _ := json.MarshalIndent(recs, "", "  ")
	fmt.Println(string(b))
}
