package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/blockpool/classpool"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool

	// Pool geometry
	poolSize    int
	blockSize   int
	classCount  int
	baseAddress string
)

var rootCmd = &cobra.Command{
	Use:   "poolsim",
	Short: "Exercise a size-classed block pool",
	Long: `poolsim builds a size-classed block pool with the requested geometry and
replays allocation scripts against it, reporting the address handed out for every
request and the occupancy of every size class.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every pool operation to stderr")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	rootCmd.PersistentFlags().IntVar(&poolSize, "pool-size", classpool.DefaultPoolSize, "Size of the pool in bytes")
	rootCmd.PersistentFlags().IntVar(&blockSize, "block-size", classpool.DefaultBaseBlockSize, "Block size of the smallest size class")
	rootCmd.PersistentFlags().IntVar(&classCount, "classes", classpool.DefaultClassCount, "Number of size classes")
	rootCmd.PersistentFlags().StringVar(&baseAddress, "base", classpool.DefaultBaseAddress.String(), "Address of the first byte of the pool")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// newPool builds a pool from the geometry flags
func newPool() (*classpool.Pool, error) {
	base, err := parseAddress(baseAddress)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return classpool.New(logger, classpool.CreateOptions{
		BaseAddress:   base,
		PoolSize:      poolSize,
		BaseBlockSize: blockSize,
		ClassCount:    classCount,
	})
}

// parseAddress accepts decimal, 0x-prefixed hex and 0o-prefixed octal addresses
func parseAddress(text string) (classpool.Address, error) {
	value, err := strconv.ParseUint(text, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", text)
	}
	if uint64(classpool.Address(value)) != value {
		return 0, errors.Newf("address %q does not fit in a pointer", text)
	}

	return classpool.Address(value), nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
