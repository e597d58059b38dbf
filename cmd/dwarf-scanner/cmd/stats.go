package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qwattash/cheri-dwarf-scanner/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats [database]",
	Short: "Print row counts of an existing layout database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Database
		if len(args) > 0 {
			path = args[0]
		}

		st, err := store.Open(path, log)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats()
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}
		fmt.Printf("Database: %s\n", path)
		fmt.Printf("  Record types:  %d\n", stats.StructTypes)
		fmt.Printf("  Members:       %d\n", stats.Members)
		fmt.Printf("  Member bounds: %d\n", stats.MemberBounds)
		fmt.Printf("  Aliases:       %d\n", stats.Aliases)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
