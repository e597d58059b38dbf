package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qwattash/cheri-dwarf-scanner/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "dwarf-scanner",
	Short: "dwarf-scanner - Extract record layouts and sub-object capability bounds",
	Long: `dwarf-scanner walks the DWARF debug info of ELF binaries and records,
for every struct/union/class, the flattened member layout, the smallest
compressed-capability bounds that enclose each member, and which
sub-object capabilities alias other members because their bounds were
widened. Results are stored in a SQLite database for analysis.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		if verbose {
			level = logrus.DebugLevel
		}
		log.SetLevel(level)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dwarf-scanner.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
