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
	"github.com/hupe1980/npheap/remote"
)

var (
	socketPath  string
	strategy    string
	capacity    int64
	lockTimeout time.Duration
	logLevel    string
	jsonLogs    bool
)

var rootCmd = &cobra.Command{
	Use:   "npheapd",
	Short: "Serve a shared object heap on a unix socket",
	Long: `npheapd owns one heap of page-backed objects and serves it to local
processes over a unix socket. Clients receive the heap's memory file and map
objects directly into their own address space.

Example:
  npheapd --socket /run/npheap.sock --strategy slab --capacity 1073741824`,
	Version: version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&socketPath, "socket", "/tmp/npheap.sock", "Unix socket to listen on")
	rootCmd.Flags().StringVar(&strategy, "strategy", "virtual", "Backing strategy: virtual, pages or slab")
	rootCmd.Flags().Int64Var(&capacity, "capacity", npheap.DefaultCapacity, "Physical memory pool size in bytes")
	rootCmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 0, "Fail Lock after waiting this long (0 waits forever)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().BoolVar(&jsonLogs, "json", false, "Log in JSON format")
}

func execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*npheap.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	if jsonLogs {
		return npheap.NewJSONLogger(level), nil
	}
	return npheap.NewTextLogger(level), nil
}

func runServe(ctx context.Context) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	s, err := npheap.ParseStrategy(strategy)
	if err != nil {
		return err
	}

	dev, err := npheap.Open(
		npheap.WithStrategy(s),
		npheap.WithCapacity(capacity),
		npheap.WithLockTimeout(lockTimeout),
		npheap.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer dev.Close()

	logger.Info("listening", "socket", socketPath)
	srv := remote.NewServer(dev, func(o *remote.ServerOptions) {
		o.Logger = logger
	})
	err = srv.ListenAndServe(ctx, socketPath)

	st := dev.Stats()
	logger.Info("shutting down",
		"objects", st.Objects,
		"frames_in_use", st.FramesInUse(),
		"free_frames", st.FreeFrames,
	)
	_ = os.Remove(socketPath)
	return err
}
