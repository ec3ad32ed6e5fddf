package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOut bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "codeheapctl",
	Short: "Drive and inspect a codeheap.Heap",
	Long: `codeheapctl builds a codeheap.Heap over a real sysmem-backed
Multiplexer and drives it through an allocation workload, printing bucket
occupancy and large-object counts. There is no on-disk format to open -
the heap it inspects is the one it just built and exercised in-process.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseSizes(csv string) ([]int, error) {
	var sizes []int
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				var n int
				if _, err := fmt.Sscanf(csv[start:i], "%d", &n); err != nil {
					return nil, fmt.Errorf("invalid size %q: %w", csv[start:i], err)
				}
				if n <= 0 {
					return nil, fmt.Errorf("size %q must be positive", csv[start:i])
				}
				sizes = append(sizes, n)
			}
			start = i + 1
		}
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no sizes parsed from %q", csv)
	}
	return sizes, nil
}
