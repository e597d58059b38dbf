package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qwattash/cheri-dwarf-scanner/internal/scan"
)

var (
	dbPath      string
	stripPrefix string
	workers     int
)

var scanCmd = &cobra.Command{
	Use:   "scan <binary>...",
	Short: "Scan binaries and record their struct layouts",
	Long: `Walk the DWARF debug info of each binary and populate the layout
database.

The scan command:
- Discovers struct/union/class types and deduplicates them across
  compilation units
- Flattens nested member layouts with cumulative offsets
- Computes representable compressed-capability bounds per member
- Derives sub-object aliasing introduced by bounds widening`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := scan.Options{
			DBPath:      cfg.Database,
			StripPrefix: cfg.StripPrefix,
			Workers:     cfg.Workers,
			Logger:      log,
		}
		if dbPath != "" {
			opts.DBPath = dbPath
		}
		if stripPrefix != "" {
			opts.StripPrefix = stripPrefix
		}
		if workers > 0 {
			opts.Workers = workers
		}

		summary, err := scan.RunAll(args, opts)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		for _, res := range summary.Results {
			fmt.Printf("%s:\n", res.Path)
			fmt.Printf("  Units:   %d\n", res.CUsProcessed)
			fmt.Printf("  Types:   %d (%d duplicates)\n", res.TypesInserted, res.DupStructs)
			fmt.Printf("  Members: %d\n", res.MembersInserted)
		}
		if !summary.OK() {
			for _, failure := range summary.Failed {
				fmt.Printf("failed: %s\n", failure)
			}
			return fmt.Errorf("%d input(s) failed", len(summary.Failed))
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&dbPath, "db", "", "output database path")
	scanCmd.Flags().StringVar(&stripPrefix, "strip-prefix", "", "store source paths relative to this directory")
	scanCmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent scrapers")
	rootCmd.AddCommand(scanCmd)
}
