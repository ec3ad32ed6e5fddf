package main

import (
	"github.com/jitmem/codeheap"
	"github.com/spf13/cobra"
)

var (
	statsSizes       string
	statsChunkSize   int
	statsMaxSubPage  int
	statsPreReserved bool
	statsSpinCount   int
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().StringVar(&statsSizes, "sizes", "64,128,257,4096,9000", "Comma-separated allocation sizes to request, in order")
	cmd.Flags().IntVar(&statsChunkSize, "chunk-size", 128, "Sub-page allocation quantum in bytes")
	cmd.Flags().IntVar(&statsMaxSubPage, "max-subpage", 4096, "Largest size served by bucketing before falling to a large allocation")
	cmd.Flags().BoolVar(&statsPreReserved, "pre-reserved", false, "Also configure a pre-reserved region and prefer it for JIT sizes")
	cmd.Flags().IntVar(&statsSpinCount, "spin-count", 0, "Multiplexer critical-section spin count")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Allocate a fixed workload and print bucket occupancy",
		Long: `stats builds a fresh Heap, allocates one region per size in
--sizes in order, and prints the resulting bucket occupancy: how many
pages are open (partially used) and full per bucket, plus large-object
and decommitted-page counts.

Example:
  codeheapctl stats --sizes 64,128,257,4096,9000
  codeheapctl stats --pre-reserved --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	sizes, err := parseSizes(statsSizes)
	if err != nil {
		return err
	}

	pre := 0
	if statsPreReserved {
		pre = 1
	}
	h, err := buildHeap(statsChunkSize, statsMaxSubPage, pre, statsSpinCount)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	var oom int
	for _, size := range sizes {
		if _, err := h.Alloc(size, 0, 0, statsPreReserved, true); err != nil {
			printInfo("alloc(%d) failed: %v\n", size, err)
			oom++
			continue
		}
	}

	s := h.Stats()
	if jsonOut {
		return printJSON(struct {
			codeheap.Stats
			RequestedAllocations int
			FailedAllocations    int
		}{s, len(sizes), oom})
	}

	printInfo("Requested %d allocations, %d failed\n\n", len(sizes), oom)
	printInfo("Bucket occupancy:\n")
	for _, b := range s.Buckets {
		if b.OpenPages == 0 && b.FullPages == 0 {
			continue
		}
		printInfo("  %-16s open=%d full=%d\n", b.Bucket, b.OpenPages, b.FullPages)
	}
	printInfo("\nLarge objects: %d (decommitted: %d)\n", s.LargeObjects, s.DecommittedLargeObjects)
	printInfo("Decommitted pages: %d\n", s.DecommittedPages)
	printInfo("All JIT allocations stayed in pre-reserved region: %v\n", s.AllJITInPreReserved)
	return nil
}
