//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/npheap"
	"github.com/hupe1980/npheap/internal/bench"
	"github.com/hupe1980/npheap/internal/logsink"
	"github.com/hupe1980/npheap/remote"
)

var (
	socketPath string
	strategy   string
	capacity   int64
	workers    int
	objects    int
	maxSize    int
	opsRate    float64
	logDir     string
	compress   string
	uploadURL  string
	seed       uint64
	verify     bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "npbench",
	Short: "Drive a shared object heap with concurrent workers",
	Long: `npbench runs workers that lock, size, map, fill and delete objects and
log every store and delete to npheap.<worker>.log. Without --socket the heap
is created in process; with --socket the workers connect to npheapd.

Example:
  npbench --workers 4 --objects 10 --max-size 65536
  npbench --socket /tmp/npheap.sock --compress zstd --upload s3://bucket/runs/1
  npbench --verify`,
	Version: "0.1.0",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBench(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&socketPath, "socket", "", "Connect to npheapd on this socket instead of running in process")
	f.StringVar(&strategy, "strategy", "virtual", "Backing strategy for an in-process heap")
	f.Int64Var(&capacity, "capacity", npheap.DefaultCapacity, "Physical memory for an in-process heap in bytes")
	f.IntVarP(&workers, "workers", "w", 4, "Number of workers")
	f.IntVarP(&objects, "objects", "n", 10, "Number of object ids")
	f.IntVar(&maxSize, "max-size", 65536, "Maximum random object size in bytes")
	f.Float64Var(&opsRate, "rate", 0, "Operations per second across all workers (0 is unlimited)")
	f.StringVar(&logDir, "dir", ".", "Directory for worker logs")
	f.StringVar(&compress, "compress", "none", "Log compression: none, zstd or lz4")
	f.StringVar(&uploadURL, "upload", "", "Also store logs at this URL (dir, file://, s3://, minio://)")
	f.Uint64Var(&seed, "seed", 0, "Random seed (0 picks one)")
	f.BoolVar(&verify, "verify", false, "Check the heap against the logs after the run")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBench(ctx context.Context) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := npheap.NewTextLogger(level)

	c, err := logsink.ParseCompression(compress)
	if err != nil {
		return err
	}

	cfg := bench.Config{
		Workers:     workers,
		Objects:     objects,
		MaxSize:     maxSize,
		Rate:        opsRate,
		Dir:         logDir,
		Compression: c,
		Seed:        seed,
		Logger:      logger.Logger,
	}
	if uploadURL != "" {
		if cfg.Sink, err = logsink.Open(ctx, uploadURL); err != nil {
			return err
		}
	}

	open, closeHeap, err := opener(logger)
	if err != nil {
		return err
	}
	defer closeHeap()

	start := time.Now()
	results, err := bench.Run(ctx, cfg, open)
	if err != nil {
		return err
	}

	stores, deletes := 0, 0
	files := make([]string, 0, len(results))
	for _, r := range results {
		stores += r.Stores
		deletes += r.Deletes
		files = append(files, r.LogFile)
	}
	fmt.Printf("%d workers: %d stores, %d deletes in %s\n", len(results), stores, deletes, time.Since(start).Round(time.Millisecond))

	if verify {
		heap, err := open(ctx, -1)
		if err != nil {
			return err
		}
		defer heap.Close()
		n, err := bench.Verify(ctx, heap, nil, files, c)
		if err != nil {
			return err
		}
		fmt.Printf("verified %d objects\n", n)
	}
	return nil
}

// opener returns how workers reach the heap and a cleanup for whatever the
// opener owns.
func opener(logger *npheap.Logger) (bench.Opener, func(), error) {
	if socketPath != "" {
		return func(ctx context.Context, _ int) (npheap.Heap, error) {
			return remote.Dial(ctx, socketPath)
		}, func() {}, nil
	}

	s, err := npheap.ParseStrategy(strategy)
	if err != nil {
		return nil, nil, err
	}
	dev, err := npheap.Open(
		npheap.WithStrategy(s),
		npheap.WithCapacity(capacity),
		npheap.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return func(context.Context, int) (npheap.Heap, error) {
		return npheap.NewClient(dev), nil
	}, func() { _ = dev.Close() }, nil
}
