package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage and tier statistics",
		Run:   runStats,
	}
	rootCmd.AddCommand(cmd)
}

// statsOut combines store counts with whatever the component snapshots
// reveal about the in-memory tiers at last save.
type statsOut struct {
	Interactions   int   `json:"interactions"`
	Notes          int   `json:"notes"`
	Links          int   `json:"links"`
	StorageBytes   int64 `json:"storage_bytes"`
	ValidatedFacts int   `json:"validated_facts"`
	PendingFacts   int   `json:"pending_facts"`
	IdentityBlocks int   `json:"identity_blocks"`
	Users          int   `json:"users"`
}

func runStats(cmd *cobra.Command, args []string) {
	layer, err := openLayer()
	if err != nil {
		exitErr("open state", err)
	}
	defer layer.Close()

	st := layer.Stats()
	out := statsOut{
		Interactions: st.Interactions,
		Notes:        st.Notes,
		Links:        st.Links,
		StorageBytes: st.StorageBytes,
	}

	if data, err := layer.LoadSnapshot("semantic"); err == nil && data != nil {
		var snap struct {
			Pending map[string]json.RawMessage `json:"pending"`
			Facts   map[string]json.RawMessage `json:"facts"`
		}
		if json.Unmarshal(data, &snap) == nil {
			out.ValidatedFacts = len(snap.Facts)
			out.PendingFacts = len(snap.Pending)
		}
	}
	if data, err := layer.LoadSnapshot("core"); err == nil && data != nil {
		var snap struct {
			Blocks map[string]json.RawMessage `json:"blocks"`
		}
		if json.Unmarshal(data, &snap) == nil {
			out.IdentityBlocks = len(snap.Blocks)
		}
	}
	if data, err := layer.LoadSnapshot("user_profiles"); err == nil && data != nil {
		var profiles map[string]json.RawMessage
		if json.Unmarshal(data, &profiles) == nil {
			out.Users = len(profiles)
		}
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
