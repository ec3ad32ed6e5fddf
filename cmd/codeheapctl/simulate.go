package main

import (
	"github.com/jitmem/codeheap"
	"github.com/spf13/cobra"
)

var (
	simIterations int
	simSizes      string
	simFreeEvery  int
	simChunkSize  int
	simMaxSubPage int
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simIterations, "iterations", 256, "Number of allocations to request")
	cmd.Flags().StringVar(&simSizes, "sizes", "32,128,257,1500,9000", "Comma-separated size pool, cycled round-robin")
	cmd.Flags().IntVar(&simFreeEvery, "free-every", 3, "Free the allocation from N requests ago every Nth request, simulating churn")
	cmd.Flags().IntVar(&simChunkSize, "chunk-size", 128, "Sub-page allocation quantum in bytes")
	cmd.Flags().IntVar(&simMaxSubPage, "max-subpage", 4096, "Largest size served by bucketing before falling to a large allocation")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run an alloc/free churn workload and report final occupancy",
		Long: `simulate cycles through --sizes for --iterations requests,
freeing the allocation from --free-every requests back on every
--free-every'th step, the kind of steady-state churn a JIT issuing and
retiring short-lived functions produces. It prints how many requests
succeeded, how many hit ErrOutOfMemory or ErrSecondaryExhausted, and the
heap's final bucket occupancy.

Example:
  codeheapctl simulate --iterations 1000 --free-every 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
}

func runSimulate() error {
	sizes, err := parseSizes(simSizes)
	if err != nil {
		return err
	}
	if simFreeEvery <= 0 {
		simFreeEvery = 1
	}

	h, err := buildHeap(simChunkSize, simMaxSubPage, 0, 0)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	live := make([]*codeheap.Allocation, 0, simIterations)
	var failed int

	for i := 0; i < simIterations; i++ {
		size := sizes[i%len(sizes)]
		a, err := h.Alloc(size, 0, 0, false, true)
		if err != nil {
			failed++
			live = append(live, nil)
			continue
		}
		live = append(live, a)

		if i >= simFreeEvery && i%simFreeEvery == 0 {
			victim := live[i-simFreeEvery]
			if victim != nil {
				if err := h.Free(victim); err != nil {
					printInfo("free at step %d failed: %v\n", i-simFreeEvery, err)
				}
				live[i-simFreeEvery] = nil
			}
		}
	}

	s := h.Stats()
	if jsonOut {
		return printJSON(struct {
			codeheap.Stats
			Iterations int
			Failed     int
		}{s, simIterations, failed})
	}

	printInfo("Ran %d iterations, %d failed\n\n", simIterations, failed)
	printInfo("Bucket occupancy:\n")
	for _, b := range s.Buckets {
		if b.OpenPages == 0 && b.FullPages == 0 {
			continue
		}
		printInfo("  %-16s open=%d full=%d\n", b.Bucket, b.OpenPages, b.FullPages)
	}
	printInfo("\nLarge objects: %d (decommitted: %d)\n", s.LargeObjects, s.DecommittedLargeObjects)
	printInfo("Decommitted pages: %d\n", s.DecommittedPages)
	return nil
}
