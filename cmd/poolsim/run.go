package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/blockpool/classpool"
)

var (
	runDetailed bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVar(&runDetailed, "detailed", false, "List every block and free range in stats output")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Replay an allocation script against a pool",
		Long: `The run command reads an allocation script from a file, or from stdin when no
file (or "-") is given, and replays it against a fresh pool. Each line holds one
command; blank lines and text after '#' are ignored.

  alloc <size>     allocate a block of at least size bytes
  free <address>   return the block starting at address
  init             reset the pool, forgetting every live block
  stats            print the pool statistics as JSON

A failed allocation or free is reported and the replay continues.

Example:
  poolsim run script.txt
  echo "alloc 100" | poolsim run
  poolsim run script.txt --detailed --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args)
		},
	}
	return cmd
}

// OpResult records the outcome of one script line
type OpResult struct {
	Line      int             `json:"line"`
	Op        string          `json:"op"`
	Size      int             `json:"size,omitempty"`
	Address   string          `json:"address,omitempty"`
	BlockSize int             `json:"blockSize,omitempty"`
	Error     string          `json:"error,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

// RunReport is the JSON document printed by the run command
type RunReport struct {
	Operations      []OpResult `json:"operations"`
	Failed          int        `json:"failed"`
	LiveAllocations int        `json:"liveAllocations"`
	AllocationBytes int        `json:"allocationBytes"`
	RemainingBytes  int        `json:"remainingBytes"`
}

func runRun(args []string) error {
	input := io.Reader(os.Stdin)
	if len(args) == 1 && args[0] != "-" {
		printVerbose("Opening script: %s\n", args[0])

		file, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open script")
		}
		defer file.Close()
		input = file
	}

	pool, err := newPool()
	if err != nil {
		return err
	}

	results, err := replay(pool, input)
	if err != nil {
		return err
	}

	stats := pool.CalculateStatistics()
	report := RunReport{
		Operations:      results,
		LiveAllocations: stats.AllocationCount,
		AllocationBytes: stats.AllocationBytes,
		RemainingBytes:  stats.FreeBytes(),
	}
	for _, result := range results {
		if result.Error != "" {
			report.Failed++
		}
	}

	if jsonOut {
		return printJSON(report)
	}

	for _, result := range results {
		printResult(result)
	}
	printInfo("\n%d operations, %d failed, %d live allocations (%d bytes), %d bytes free\n",
		len(results), report.Failed, report.LiveAllocations, report.AllocationBytes, report.RemainingBytes)

	return nil
}

// replay executes every command of a script. Pool errors are recorded in the results; a
// malformed line stops the replay.
func replay(pool *classpool.Pool, input io.Reader) ([]OpResult, error) {
	var results []OpResult

	scanner := bufio.NewScanner(input)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := scanner.Text()
		if comment := strings.IndexByte(line, '#'); comment >= 0 {
			line = line[:comment]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		result, err := execLine(pool, lineNumber, fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		results = append(results, result)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read script")
	}

	return results, nil
}

func execLine(pool *classpool.Pool, lineNumber int, fields []string) (OpResult, error) {
	result := OpResult{Line: lineNumber, Op: fields[0]}

	switch fields[0] {
	case "alloc":
		if len(fields) != 2 {
			return result, errors.New("usage: alloc <size>")
		}
		size, err := strconv.Atoi(fields[1])
		if err != nil {
			return result, errors.Wrapf(err, "invalid size %q", fields[1])
		}
		result.Size = size

		address, err := pool.Allocate(size)
		if err != nil {
			result.Error = err.Error()
			return result, nil
		}
		result.Address = address.String()
		result.BlockSize, err = pool.BlockSize(address)
		if err != nil {
			return result, err
		}

	case "free":
		if len(fields) != 2 {
			return result, errors.New("usage: free <address>")
		}
		address, err := parseAddress(fields[1])
		if err != nil {
			return result, err
		}
		result.Address = address.String()

		err = pool.Free(address)
		if err != nil {
			result.Error = err.Error()
		}

	case "init":
		if len(fields) != 1 {
			return result, errors.New("usage: init")
		}
		pool.Init()

	case "stats":
		if len(fields) != 1 {
			return result, errors.New("usage: stats")
		}
		result.Stats = json.RawMessage(pool.BuildStatsString(runDetailed))

	default:
		return result, errors.Newf("unknown command %q", fields[0])
	}

	return result, nil
}

func printResult(result OpResult) {
	switch {
	case result.Error != "":
		printInfo("%4d  %-5s %-10s  FAILED: %s\n", result.Line, result.Op, operand(result), result.Error)
	case result.Op == "alloc":
		printInfo("%4d  %-5s %-10d  %s (%d byte block)\n", result.Line, result.Op, result.Size, result.Address, result.BlockSize)
	case result.Op == "stats":
		printInfo("%4d  stats\n%s\n", result.Line, result.Stats)
	default:
		printInfo("%4d  %-5s %-10s  ok\n", result.Line, result.Op, operand(result))
	}
}

func operand(result OpResult) string {
	if result.Op == "alloc" {
		return strconv.Itoa(result.Size)
	}
	return result.Address
}
