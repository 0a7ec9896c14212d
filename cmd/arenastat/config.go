package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/arenas/memutils"
	"golang.org/x/exp/slog"
)

// logLevel implements pflag.Value over slog levels
type logLevel struct {
	level slog.Level
}

var _ pflag.Value = &logLevel{}

func (l *logLevel) String() string {
	return strings.ToLower(l.level.String())
}

func (l *logLevel) Set(s string) error {
	err := l.level.UnmarshalText([]byte(s))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", s)
	}
	return nil
}

func (l *logLevel) Type() string {
	return "level"
}

type config struct {
	Size             int
	Operations       int
	Seed             int64
	MaxAlloc         int
	AlignmentMax     uint
	LogLevel         logLevel
	FreeAll          bool
	FailOnExhaustion bool
	HostVisible      bool
}

func (c *config) RegisterFlags(f *pflag.FlagSet) {
	c.LogLevel.level = slog.LevelInfo

	f.IntVar(&c.Size, "size", 1024*128, "Size of the arena in bytes.")
	f.IntVar(&c.Operations, "ops", 1000, "Number of allocate or free operations to run.")
	f.Int64Var(&c.Seed, "seed", 1, "Seed for the random workload.")
	f.IntVar(&c.MaxAlloc, "max-alloc", 4096, "Largest allocation size to request, in bytes.")
	f.UintVar(&c.AlignmentMax, "alignment-max", 256, "Largest alignment to request. Alignments are powers of two up to this value.")
	f.Var(&c.LogLevel, "log-level", "Log level: debug, info, warn or error.")
	f.BoolVar(&c.FreeAll, "free-all", false, "Free every outstanding allocation before printing the map and destroying the arena.")
	f.BoolVar(&c.FailOnExhaustion, "fail-on-exhaustion", false, "Treat a failed allocation due to lack of space as fatal.")
	f.BoolVar(&c.HostVisible, "host-visible", true, "Map the arena and write a pattern into every allocation.")
}

func (c config) Validate() error {
	if c.Size < 1 {
		return errors.Newf("--size must be positive, but was %d", c.Size)
	}
	if c.Operations < 0 {
		return errors.Newf("--ops must not be negative, but was %d", c.Operations)
	}
	if c.MaxAlloc < 1 {
		return errors.Newf("--max-alloc must be positive, but was %d", c.MaxAlloc)
	}
	return memutils.CheckPow2(c.AlignmentMax, "--alignment-max")
}
