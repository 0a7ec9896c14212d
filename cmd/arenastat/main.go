// Command arenastat replays a seeded random workload of allocations and frees against a
// host memory arena, checking the arena's invariants after every step, and prints the
// resulting block map as json.
package main

import (
	"fmt"
	"io"
	"math/bits"
	"math/rand"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/arenas/arena"
	"github.com/vkngwrapper/arenas/hostmem"
	"github.com/vkngwrapper/arenas/memutils"
	"golang.org/x/exp/slog"
)

func main() {
	var cfg config

	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	cfg.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel.level}))

	if err := run(cfg, logger, os.Stdout); err != nil {
		logger.Error("arena workload failed", slog.Any("error", err))
		os.Exit(1)
	}
}

type outstanding struct {
	alloc arena.Allocation
	fill  byte
}

type workloadStats struct {
	Allocations int
	Frees       int
	Exhausted   int
}

func run(cfg config, logger *slog.Logger, out io.Writer) error {
	provider := hostmem.New()
	a, err := arena.New(logger, provider, cfg.Size, arena.CreateOptions{
		HostVisible: cfg.HostVisible,
		Name:        "arenastat",
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	maxAlignmentShift := bits.TrailingZeros(cfg.AlignmentMax)

	var live []outstanding
	var stats workloadStats

	for op := 0; op < cfg.Operations; op++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			index := rng.Intn(len(live))
			entry := live[index]
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]

			err = checkFill(entry)
			if err != nil {
				return err
			}
			err = a.FreeMemory(entry.alloc.Token)
			if err != nil {
				return err
			}
			stats.Frees++
		} else {
			size := rng.Intn(cfg.MaxAlloc) + 1
			alignment := uint(1) << rng.Intn(maxAlignmentShift+1)

			alloc, err := a.AllocateMemory(size, alignment)
			if errors.Is(err, arena.ErrExhausted) && !cfg.FailOnExhaustion {
				logger.Debug("allocation did not fit", slog.Int("op", op), slog.Any("error", err))
				stats.Exhausted++
				continue
			}
			if err != nil {
				return err
			}

			entry := outstanding{alloc: alloc, fill: byte(op%255) + 1}
			for i, data := 0, alloc.Bytes(); i < len(data); i++ {
				data[i] = entry.fill
			}
			err = a.SetAllocationUserData(alloc.Token, fmt.Sprintf("op %d", op))
			if err != nil {
				return err
			}

			live = append(live, entry)
			stats.Allocations++
		}

		err = a.Validate()
		if err != nil {
			return errors.Wrapf(err, "arena failed validation after operation %d", op)
		}
	}

	if cfg.FreeAll {
		for _, entry := range live {
			err = a.FreeMemory(entry.alloc.Token)
			if err != nil {
				return err
			}
			stats.Frees++
		}
		live = nil
	}

	logger.Info("workload complete",
		slog.Int("allocations", stats.Allocations),
		slog.Int("frees", stats.Frees),
		slog.Int("exhausted", stats.Exhausted),
		slog.Int("outstanding", len(live)),
	)

	writer := jwriter.NewWriter()
	writeReport(&writer, cfg, stats, a)
	if err = writer.Error(); err != nil {
		return err
	}
	if _, err = out.Write(writer.Bytes()); err != nil {
		return err
	}
	if _, err = fmt.Fprintln(out); err != nil {
		return err
	}

	if len(live) > 0 {
		logger.Warn("leaving the arena in place with outstanding allocations, pass --free-all to release them",
			slog.Int("outstanding", len(live)))
		return nil
	}
	return a.Destroy()
}

func checkFill(entry outstanding) error {
	for offset, b := range entry.alloc.Bytes() {
		if b != entry.fill {
			return errors.Newf("allocation %d was overwritten at byte %d: expected %d, found %d",
				entry.alloc.Token, offset, entry.fill, b)
		}
	}
	return nil
}

func writeReport(writer *jwriter.Writer, cfg config, stats workloadStats, a *arena.Arena) {
	obj := writer.Object()
	defer obj.End()

	workload := obj.Name("Workload").Object()
	workload.Name("Seed").Int(int(cfg.Seed))
	workload.Name("Operations").Int(cfg.Operations)
	workload.Name("Allocations").Int(stats.Allocations)
	workload.Name("Frees").Int(stats.Frees)
	workload.Name("Exhausted").Int(stats.Exhausted)
	workload.End()

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	a.AddDetailedStatistics(&detailed)

	statsObj := obj.Name("Statistics").Object()
	detailed.WriteJson(&statsObj)
	statsObj.End()

	a.PrintDetailedMap(obj.Name("Arena"))
}
