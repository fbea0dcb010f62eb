package main

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/brkalloc/malloc"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
	"github.com/vkngwrapper/brkalloc/memutils/region"
)

var (
	replayStrategy    string
	replayCapacity    int
	replayMapped      bool
	replayDetailedMap bool
)

func init() {
	cmd := newReplayCmd()
	cmd.Flags().StringVarP(&replayStrategy, "strategy", "s", "first", "Fit strategy: first, best, worst or next")
	cmd.Flags().IntVar(&replayCapacity, "capacity", malloc.DefaultRegionCapacity, "Largest size the region may grow to, in bytes")
	cmd.Flags().BoolVar(&replayMapped, "mmap", false, "Back the region with an anonymous memory mapping instead of the Go heap")
	cmd.Flags().BoolVar(&replayDetailedMap, "detailed", false, "Include every block in JSON output")
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay a trace and print heap statistics",
		Long: `The replay command runs every operation in a trace file against a fresh
allocator and prints the heap management statistics at the end. Use "-" to read
the trace from stdin.

Trace format, one operation per line:
  a <id> <size>           allocate
  c <id> <count> <size>   allocate zeroed
  r <id> <size>           resize
  f <id>                  release
Lines starting with # are comments.

Example:
  heaptrace replay workload.trace
  heaptrace replay workload.trace --strategy best --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.OutOrStdout(), cmd.InOrStdin(), args)
		},
	}
	return cmd
}

func runReplay(out io.Writer, in io.Reader, args []string) error {
	strategy, err := metadata.ParseFitStrategy(replayStrategy)
	if err != nil {
		return err
	}

	ops, err := readTrace(in, args[0])
	if err != nil {
		return err
	}
	printVerbose(out, "Parsed %d operations from %s\n", len(ops), args[0])

	var grower region.Grower
	if replayMapped {
		mapped, err := region.NewMappedRegion(replayCapacity)
		if err != nil {
			return errors.Wrap(err, "failed to map region")
		}
		defer mapped.Close()
		grower = mapped
	} else {
		grower, err = region.NewSliceRegion(replayCapacity)
		if err != nil {
			return err
		}
	}

	allocator, err := malloc.New(newLogger(), malloc.CreateOptions{
		Strategy: strategy,
		Region:   grower,
	})
	if err != nil {
		return err
	}

	result, err := Replay(allocator, ops)
	if err != nil {
		return err
	}

	if jsonOut {
		printInfo(out, "%s\n", allocator.BuildStatsString(replayDetailedMap))
		return nil
	}

	printReport(out, allocator.Statistics())
	if result.Failures > 0 {
		printInfo(out, "failures:\t%d\n", result.Failures)
	}
	printVerbose(out, "live:\t\t%d\n", result.Live)

	return nil
}

func readTrace(in io.Reader, path string) ([]Op, error) {
	if path == "-" {
		return ParseTrace(in)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open trace")
	}
	defer file.Close()

	return ParseTrace(file)
}

// ReplayResult summarizes a replay beyond what the allocator counts itself
type ReplayResult struct {
	// Failures is the number of operations that returned Nil when they asked for memory
	Failures int
	// Live is the number of allocations still outstanding at the end of the trace
	Live int
}

// Replay runs ops against allocator in order. Allocations that fail are counted, and the id they
// would have bound stays unbound. Releasing an unbound id, or binding an id that is already bound, is
// an error in the trace.
func Replay(allocator *malloc.Allocator, ops []Op) (ReplayResult, error) {
	var result ReplayResult
	pointers := make(map[string]malloc.Pointer)

	bind := func(op Op, p malloc.Pointer) {
		if p == malloc.Nil {
			result.Failures++
			return
		}
		pointers[op.ID] = p
	}

	for _, op := range ops {
		p, bound := pointers[op.ID]

		switch op.Kind {
		case OpAllocate, OpAllocateZeroed:
			if bound {
				return result, errors.Newf("line %d: id %q is already allocated", op.Line, op.ID)
			}
			if op.Kind == OpAllocate {
				bind(op, allocator.Allocate(op.Size))
			} else {
				bind(op, allocator.AllocateZeroed(op.Count, op.Size))
			}
		case OpResize:
			resized := allocator.Resize(p, op.Size)
			if op.Size == 0 {
				delete(pointers, op.ID)
				continue
			}
			if resized == malloc.Nil {
				result.Failures++
				continue
			}
			pointers[op.ID] = resized
		case OpRelease:
			if !bound {
				return result, errors.Newf("line %d: id %q is not allocated", op.Line, op.ID)
			}
			allocator.Release(p)
			delete(pointers, op.ID)
		}
	}

	result.Live = len(pointers)
	return result, nil
}

func printReport(out io.Writer, counters memutils.Counters) {
	printInfo(out, "\nheap management statistics\n")
	printInfo(out, "mallocs:\t%d\n", counters.Allocations)
	printInfo(out, "frees:\t\t%d\n", counters.Frees)
	printInfo(out, "reuses:\t\t%d\n", counters.Reuses)
	printInfo(out, "grows:\t\t%d\n", counters.Grows)
	printInfo(out, "splits:\t\t%d\n", counters.Splits)
	printInfo(out, "coalesces:\t%d\n", counters.Coalesces)
	printInfo(out, "blocks:\t\t%d\n", counters.Blocks)
	printInfo(out, "requested:\t%d\n", counters.RequestedBytes)
	printInfo(out, "max heap:\t%d\n", counters.PeakRegionBytes)
}
