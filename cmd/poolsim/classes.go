package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newClassesCmd())
}

func newClassesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "Show the size-class table",
		Long: `The classes command shows the block size and unit count of every size class
for the pool geometry selected by the global flags.

Example:
  poolsim classes
  poolsim classes --pool-size 65536 --block-size 64 --classes 7
  poolsim classes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClasses()
		},
	}
	return cmd
}

func runClasses() error {
	pool, err := newPool()
	if err != nil {
		return err
	}

	classes := pool.ClassStatistics()
	if jsonOut {
		return printJSON(classes)
	}

	table := pool.Table()
	printInfo("Pool: %d bytes at %s, %d slots per class\n\n", pool.Size(), pool.BaseAddress(), table.SlotsPerClass())
	printInfo("%-6s %10s %6s\n", "Class", "BlockSize", "Units")
	for _, class := range classes {
		printInfo("%-6d %10d %6d\n", class.Class, class.BlockSize, class.TotalUnits)
	}

	return nil
}
