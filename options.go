//go:build linux

package npheap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/npheap/internal/backing"
	"github.com/hupe1980/npheap/internal/mapping"
)

// DefaultCapacity is the physical memory reserved by Open unless WithCapacity
// says otherwise.
const DefaultCapacity = 256 << 20

// Strategy selects how object buffers are laid out in physical memory.
type Strategy = backing.Strategy

const (
	// StrategyVirtual backs each page with its own frame (vmalloc).
	StrategyVirtual = backing.Virtual
	// StrategyPages backs an object with one aligned power-of-two run (alloc_pages).
	StrategyPages = backing.Pages
	// StrategySlab carves objects from per-size-class slabs (kmalloc).
	StrategySlab = backing.Slab
)

// ParseStrategy parses a strategy name such as "virtual" or "kmalloc".
func ParseStrategy(name string) (Strategy, error) {
	s, err := backing.ParseStrategy(name)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return s, nil
}

// PageInstaller installs one page of a mapping. See WithPageInstaller.
type PageInstaller = mapping.PageInstaller

type options struct {
	strategy         Strategy
	capacity         int64
	metricsCollector MetricsCollector
	logger           *Logger
	lockTimeout      time.Duration
	installer        PageInstaller
	punchHole        bool
}

// Option configures Open.
type Option func(*options)

// WithStrategy selects the backing allocator. The default is StrategyVirtual.
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithCapacity sets the size in bytes of the physical memory pool. It is
// rounded down to whole pages.
func WithCapacity(bytes int64) Option {
	return func(o *options) {
		o.capacity = bytes
	}
}

// WithMetrics enables metrics collection.
//
// Example:
//
//	metrics := &npheap.BasicMetricsCollector{}
//	dev, _ := npheap.Open(npheap.WithMetrics(metrics))
//	// ... use dev ...
//	stats := metrics.GetStats()
//	fmt.Printf("Maps: %d, pages: %d\n", stats.MapCount, stats.MapPages)
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := npheap.NewJSONLogger(slog.LevelInfo)
//	dev, _ := npheap.Open(npheap.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithLockTimeout bounds how long Lock waits. Zero, the default, waits
// until the lock is free or the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithPageInstaller replaces the MAP_FIXED page installer. Used to inject
// page install faults.
func WithPageInstaller(inst PageInstaller) Option {
	return func(o *options) {
		o.installer = inst
	}
}

// WithDecommit chooses how freed frames are returned to zero. With punchHole
// set, the default, the frames are released to the kernel with fallocate;
// otherwise they are cleared in place.
func WithDecommit(punchHole bool) Option {
	return func(o *options) {
		o.punchHole = punchHole
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		strategy:         StrategyVirtual,
		capacity:         DefaultCapacity,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		punchHole:        true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
